package model

type Problem struct {
	ID     string `db:"id" json:"id"`
	Title  string `db:"title" json:"title"`
	Body   string `db:"body" json:"body"`
	Public bool   `db:"public" json:"public"`
}

// observer follows one interview session from the command line. With an
// interviewer token it prints state changes, the remaining time and every
// incident as it is recorded; without one it sees what the candidate sees.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/observer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL string
		sessionID string
		token     string
		join      string
		poll      time.Duration
		verbose   bool
	)

	flagSet := pflag.NewFlagSet("observer", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "http://localhost:8080", "interview server base URL")
	flagSet.StringVar(&sessionID, "session", "", "session id to observe (required)")
	flagSet.StringVar(&token, "token", os.Getenv("INTERVIEWER_TOKEN"), "interviewer bearer token; empty observes as the candidate")
	flagSet.StringVar(&join, "join", "", "request to join the session under this candidate name")
	flagSet.DurationVar(&poll, "poll", 0, "state poll interval; 0 uses the server's")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log transport errors")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if sessionID == "" {
		flagSet.Usage()
		return fmt.Errorf("--session is required")
	}

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := observer.NewClient(serverURL, token, nil)
	if join != "" {
		if _, err := client.Join(ctx, sessionID, join); err != nil {
			return fmt.Errorf("join: %w", err)
		}
	}

	ended := make(chan struct{})
	var endedOnce bool
	view := observer.New(client, observer.Config{
		SessionID:    sessionID,
		PollInterval: poll,
	}, observer.Callbacks{
		State: func(st model.SessionState) {
			printState(st)
			if st.Ended && !endedOnce {
				endedOnce = true
				close(ended)
			}
		},
		Incident: func(v model.IncidentView) {
			printIncident(v)
		},
		Alert: func(a model.Alert) {
			fmt.Printf("%s  ALERT     %s x%d\n", a.At.Local().Format(time.TimeOnly), a.Kind, a.Count)
		},
	})
	if err := view.Start(ctx); err != nil {
		return fmt.Errorf("observe session: %w", err)
	}
	defer view.Close()

	clock := time.NewTicker(time.Second)
	defer clock.Stop()
	var lastRemaining time.Duration = -1

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			return nil
		case now := <-clock.C:
			st, _ := view.State()
			if st.StartTime == nil {
				continue
			}
			remaining := view.TimeRemaining(now).Truncate(time.Second)
			if remaining != lastRemaining && remaining%(30*time.Second) == 0 {
				fmt.Printf("%s  TIME      %s remaining\n", now.Format(time.TimeOnly), remaining)
			}
			lastRemaining = remaining
		}
	}
}

func printState(st model.SessionState) {
	status := "created"
	switch {
	case st.Ended:
		status = "ended"
	case st.CandidateStarted:
		status = "in progress"
	case st.InterviewerReady:
		status = "interviewer ready"
	case st.Approved:
		status = "approved"
	case st.CandidateJoinRequested:
		status = "join requested"
	}
	name := ""
	if st.CandidateName != nil {
		name = " candidate=" + *st.CandidateName
	}
	fmt.Printf("%s  STATE     %s%s\n", time.Now().Format(time.TimeOnly), status, name)
}

func printIncident(v model.IncidentView) {
	corr := ""
	if v.Correlation != nil {
		corr = fmt.Sprintf(" activeWindow=%t originMatch=%t", v.Correlation.DuringActiveWindow, v.Correlation.OriginMatches)
	}
	fmt.Printf("%s  INCIDENT  %-6s %s%s\n", v.OccurredAt.Local().Format(time.TimeOnly), v.Severity, v.Kind, corr)
}

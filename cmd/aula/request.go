package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"aula"
	"aula/internal/store"
	"aula/pkg/defaults"

	"github.com/spf13/cobra"
)

// Request outcome codes recorded as the request_outcome metric.
const (
	outcomeUnknown         = 0
	outcomeAccepted        = 1
	outcomeDenied          = 2
	outcomeCanceled        = 3
	outcomeTimeout         = 4
	outcomeNoResponse      = -1
	outcomeInvalidResponse = -2
)

func requestCmd() *cobra.Command {
	var (
		programa     string
		salones      int
		laboratorios int
		endpoint     string
		timeout      time.Duration
		dbPath       string
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request classrooms and labs from a faculty gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if programa == "" {
				return fmt.Errorf("--programa is required")
			}
			if salones < 0 || laboratorios < 0 {
				return fmt.Errorf("room counts must not be negative")
			}

			req := aula.Request{Programa: programa, Salones: salones, Laboratorios: laboratorios}
			started := time.Now()
			res, outcome := exchange(endpoint, req, timeout)
			elapsed := time.Since(started)

			recordOutcome(dbPath, programa, outcome, elapsed)
			printRes(programa, res, outcome, elapsed)

			if outcome != outcomeAccepted {
				// Exit status distinguishes scripting failures without
				// another error line; the resolution is already printed.
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&programa, "programa", "", "Academic program name")
	cmd.Flags().IntVar(&salones, "salones", 0, "Classrooms requested")
	cmd.Flags().IntVar(&laboratorios, "laboratorios", 0, "Labs requested")
	cmd.Flags().StringVar(&endpoint, "endpoint", fmt.Sprintf("127.0.0.1:%d", defaults.GatewayPort), "Gateway address")
	cmd.Flags().DurationVar(&timeout, "timeout", defaults.ClientTimeout, "Overall request timeout")
	cmd.Flags().StringVar(&dbPath, "db", "", "Record client metrics into this database (optional)")
	return cmd
}

// exchange performs the one-line request/reply against the gateway.
// Every failure is folded into a synthetic RES plus an outcome code so
// the caller always has something to print and record.
func exchange(endpoint string, req aula.Request, timeout time.Duration) (aula.Res, int) {
	conn, err := net.DialTimeout("tcp", endpoint, timeout)
	if err != nil {
		return aula.ErrorRes("", aula.StatusNoServer, err.Error()), outcomeNoResponse
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return aula.ErrorRes("", aula.StatusDecodeError, err.Error()), outcomeInvalidResponse
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return aula.ErrorRes("", aula.StatusSendFailed, err.Error()), outcomeNoResponse
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return aula.ErrorRes("", aula.StatusTimeout, "sin respuesta de la facultad"), outcomeTimeout
		}
		return aula.ErrorRes("", aula.StatusNoServer, err.Error()), outcomeNoResponse
	}

	var res aula.Res
	if err := json.Unmarshal(reply, &res); err != nil {
		return aula.ErrorRes("", aula.StatusDecodeError, err.Error()), outcomeInvalidResponse
	}
	return res, statusOutcome(res.Status)
}

func statusOutcome(status string) int {
	switch status {
	case aula.StatusAccepted:
		return outcomeAccepted
	case aula.StatusDenied:
		return outcomeDenied
	case aula.StatusCanceled:
		return outcomeCanceled
	case aula.StatusTimeout:
		return outcomeTimeout
	default:
		return outcomeUnknown
	}
}

// recordOutcome appends the client-side metrics when a database was
// given. Failures only warn: the reservation already resolved.
func recordOutcome(dbPath, programa string, outcome int, elapsed time.Duration) {
	if dbPath == "" {
		return
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, warnStyle.Render("metrics database unavailable: "+err.Error()))
		return
	}
	defer st.Close()

	ms := float64(elapsed.Nanoseconds()) / 1e6
	_ = st.RecordMetric("response_time_program_faculty_total_ms", ms, programa, "FACULTY")
	_ = st.RecordMetric("request_outcome", float64(outcome), programa, "FACULTY")
}

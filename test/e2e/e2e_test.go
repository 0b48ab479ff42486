//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

// These tests run against a live portal backed by a reachable evaluation
// service and Redis. They walk the full demo flow: guest login, series
// listing, session start, gated progression, submission and outcome
// polling.

const defaultBaseURL = "http://localhost:8080"

var (
	baseURL    string
	authToken  string
	testID     int
	redirectTo string
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp.StatusCode
}

func TestA_GuestLogin(t *testing.T) {
	var data struct {
		Token string `json:"token"`
	}
	status := call(t, http.MethodPost, "/api/v1/auth/guest", map[string]string{
		"email":     fmt.Sprintf("e2e_%d@example.com", time.Now().UnixNano()),
		"full_name": "E2E Participant",
	}, &data)

	if status != http.StatusOK {
		t.Fatalf("guest login status = %d", status)
	}
	if data.Token == "" {
		t.Fatal("empty portal token")
	}
	authToken = data.Token
}

func TestB_SeriesAndStart(t *testing.T) {
	var listing struct {
		Series []struct {
			ID string `json:"id"`
		} `json:"series"`
	}
	if status := call(t, http.MethodGet, "/api/v1/series", nil, &listing); status != http.StatusOK {
		t.Fatalf("list series status = %d", status)
	}
	if len(listing.Series) == 0 {
		t.Skip("no demo series offered by the evaluation service")
	}

	var started struct {
		Session struct {
			TestID         int  `json:"test_id"`
			TotalQuestions int  `json:"total_questions"`
			CanProceed     bool `json:"can_proceed"`
		} `json:"session"`
	}
	status := call(t, http.MethodPost, "/api/v1/sessions", map[string]string{
		"series_id": listing.Series[0].ID,
	}, &started)
	if status != http.StatusCreated {
		t.Fatalf("start session status = %d", status)
	}
	if started.Session.CanProceed {
		t.Fatal("fresh session must not pass the answer gate")
	}
	testID = started.Session.TestID
}

func TestC_AnswerAdvanceSubmit(t *testing.T) {
	if testID == 0 {
		t.Skip("no session from previous step")
	}

	for {
		var view struct {
			Session struct {
				Question *struct {
					ID int `json:"question_id"`
				} `json:"question"`
				ReadyToSubmit  bool `json:"ready_to_submit"`
				IsLastQuestion bool `json:"is_last_question"`
			} `json:"session"`
		}
		path := fmt.Sprintf("/api/v1/sessions/%d", testID)
		if status := call(t, http.MethodGet, path, nil, &view); status != http.StatusOK {
			t.Fatalf("get session status = %d", status)
		}

		answerPath := fmt.Sprintf("/api/v1/sessions/%d/answers/%d", testID, view.Session.Question.ID)
		if status := call(t, http.MethodPut, answerPath, map[string]string{
			"answer_text": "e2e answer",
		}, nil); status != http.StatusOK {
			t.Fatalf("set answer status = %d", status)
		}

		if view.Session.IsLastQuestion {
			break
		}
		advancePath := fmt.Sprintf("/api/v1/sessions/%d/advance", testID)
		if status := call(t, http.MethodPost, advancePath, nil, nil); status != http.StatusOK {
			t.Fatalf("advance status = %d", status)
		}
	}

	var accepted struct {
		Submission struct {
			Redirect string `json:"redirect"`
		} `json:"submission"`
	}
	submitPath := fmt.Sprintf("/api/v1/sessions/%d/submit", testID)
	if status := call(t, http.MethodPost, submitPath, nil, &accepted); status != http.StatusAccepted {
		t.Fatalf("submit status = %d", status)
	}
	if accepted.Submission.Redirect == "" {
		t.Fatal("submission ticket missing redirect")
	}
	redirectTo = accepted.Submission.Redirect

	// Double submit must be refused while the first is running.
	if status := call(t, http.MethodPost, submitPath, nil, nil); status != http.StatusConflict {
		t.Fatalf("duplicate submit status = %d, want 409", status)
	}
}

func TestD_OutcomePolling(t *testing.T) {
	if testID == 0 {
		t.Skip("no session from previous step")
	}

	deadline := time.Now().Add(3 * time.Minute)
	for time.Now().Before(deadline) {
		var data struct {
			State struct {
				InFlight bool `json:"in_flight"`
				Outcome  *struct {
					Status   string `json:"status"`
					Redirect string `json:"redirect"`
				} `json:"outcome"`
			} `json:"state"`
		}
		path := fmt.Sprintf("/api/v1/sessions/%d/submission", testID)
		if status := call(t, http.MethodGet, path, nil, &data); status != http.StatusOK {
			t.Fatalf("submission state status = %d", status)
		}

		if data.State.Outcome != nil {
			if data.State.Outcome.Redirect != redirectTo {
				t.Fatalf("outcome redirect = %q, ticket redirect = %q", data.State.Outcome.Redirect, redirectTo)
			}
			return
		}
		time.Sleep(2 * time.Second)
	}
	t.Fatal("submission never settled")
}

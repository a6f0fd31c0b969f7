// Command workflow_smoke drives one enrollment through the full happy path
// against a running instance: register, provision an account, pay with the
// gateway test card, then complete. Intended for staging checks after deploys.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	var (
		base    string
		token   string
		amount  int64
		timeout time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&token, "token", os.Getenv("SMOKE_TOKEN"), "Staff bearer token")
	flag.Int64Var(&amount, "amount", 250000, "Payment amount in centavos")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "HTTP client timeout")
	flag.Parse()

	if token == "" {
		log.Fatal("a staff token is required (-token or SMOKE_TOKEN)")
	}

	c := &client{base: base, token: token, http: &http.Client{Timeout: timeout}}

	suffix := time.Now().Unix()
	var enrollment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := c.call(http.MethodPost, "/enrollments", map[string]interface{}{
		"first_name": "Smoke",
		"last_name":  "Test",
		"email":      fmt.Sprintf("smoke-%d@example.com", suffix),
	}, &enrollment)
	if err != nil {
		log.Fatalf("create enrollment: %v", err)
	}
	log.Printf("created enrollment %s (%s)", enrollment.ID, enrollment.Status)

	if err := c.call(http.MethodPost, "/enrollments/"+enrollment.ID+"/account", nil, &enrollment); err != nil {
		log.Fatalf("provision account: %v", err)
	}
	log.Printf("account linked, status %s", enrollment.Status)

	if err := c.call(http.MethodPost, "/enrollments/"+enrollment.ID+"/transition", map[string]interface{}{
		"target": "payment_pending",
	}, &enrollment); err != nil {
		log.Fatalf("enter payment_pending: %v", err)
	}

	var handle struct {
		IntentID    string `json:"intent_id"`
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}
	err = c.call(http.MethodPost, "/enrollments/"+enrollment.ID+"/payments", map[string]interface{}{
		"amount":      amount,
		"method_type": "card",
		"billing":     map[string]string{"name": "Smoke Test", "email": fmt.Sprintf("smoke-%d@example.com", suffix)},
		"card": map[string]interface{}{
			"card_number": "4343434343434345",
			"exp_month":   12,
			"exp_year":    time.Now().Year() + 3,
			"cvc":         "123",
		},
	}, &handle)
	if err != nil {
		log.Fatalf("start payment: %v", err)
	}
	log.Printf("payment %s: %s", handle.IntentID, handle.Status)

	if handle.Status != "succeeded" {
		var result struct {
			Outcome string `json:"outcome"`
		}
		if err := c.call(http.MethodPost, "/payments/"+handle.IntentID+"/reconcile", nil, &result); err != nil {
			log.Fatalf("reconcile: %v", err)
		}
		log.Printf("reconciled: %s", result.Outcome)
		if result.Outcome != "succeeded" {
			log.Fatalf("payment did not settle, outcome %s", result.Outcome)
		}
	}

	if err := c.call(http.MethodPost, "/enrollments/"+enrollment.ID+"/transition", map[string]interface{}{
		"target": "completed",
	}, &enrollment); err != nil {
		log.Fatalf("complete enrollment: %v", err)
	}
	log.Printf("enrollment %s completed", enrollment.ID)
}

func (c *client) call(method, path string, body interface{}, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%s %s: %s (%s)", method, path, env.Error.Message, env.Error.Code)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// remoteClient speaks the HTTP JSON API for the REPL's connect mode: login
// once for the session cookie, fetch a CSRF token, then POST queries.
type remoteClient struct {
	base string
	http *http.Client
	csrf string
}

// connectRemote handles `connect <url> <user> [password]`, prompting for the
// password on a terminal when it is not given inline.
func connectRemote(args []string) (*remoteClient, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: connect <url> <user> [password]")
	}
	base := strings.TrimSuffix(args[0], "/")
	user := args[1]
	var password string
	if len(args) >= 3 {
		password = args[2]
	} else {
		fmt.Printf("Password for %s: ", user)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, err
		}
		password = string(raw)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &remoteClient{base: base, http: &http.Client{Jar: jar, Timeout: 30 * time.Second}}

	if _, err := c.postJSON("/login", map[string]string{"username": user, "password": password}); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	env, err := c.getJSON("/csrf")
	if err != nil {
		return nil, fmt.Errorf("fetching CSRF token: %w", err)
	}
	c.csrf = env.CSRF
	return c, nil
}

// envelope is the server's uniform JSON response shape.
type envelope struct {
	Status  string          `json:"status"`
	Error   string          `json:"error"`
	Results json.RawMessage `json:"results"`
	CSRF    string          `json:"csrf"`
}

func (c *remoteClient) postJSON(path string, body any) (*envelope, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set("x-csrf-token", c.csrf)
	}
	return c.do(req)
}

func (c *remoteClient) getJSON(path string) (*envelope, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *remoteClient) do(req *http.Request) (*envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("server returned %s with unreadable body", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		if env.Error != "" {
			return nil, fmt.Errorf("%s", env.Error)
		}
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	return &env, nil
}

// query POSTs one SQL string and renders the result set as tab-separated
// text, the same shape printResult gives for local execution.
func (c *remoteClient) query(sql string) (string, error) {
	env, err := c.postJSON("/query", map[string]string{"query": sql})
	if err != nil {
		return "", err
	}
	raw := env.Results
	if len(raw) == 0 {
		return "ok", nil
	}
	var results struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
		Metrics struct {
			ElapsedMs int64 `json:"elapsed_ms"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &results); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(results.Columns, "\t"))
	for _, row := range results.Rows {
		sb.WriteByte('\n')
		parts := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				parts[i] = "NULL"
			} else {
				parts[i] = fmt.Sprint(v)
			}
		}
		sb.WriteString(strings.Join(parts, "\t"))
	}
	sb.WriteString(fmt.Sprintf("\n(%d rows, %d ms)", len(results.Rows), results.Metrics.ElapsedMs))
	return sb.String(), nil
}

func (c *remoteClient) use(kind, name string) error {
	_, err := c.postJSON("/use/"+kind, map[string]string{"name": name})
	return err
}

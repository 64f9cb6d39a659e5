package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/techbire/techbire-ai/internal/protocol"
)

type options struct {
	baseURL          string
	turns            int
	startDelay       time.Duration
	interTurnDelay   time.Duration
	turnTimeout      time.Duration
	rateLimitBackoff time.Duration
	maxThrottled     int
	texts            []string
	verbose          bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type      string `json:"type"`
	TurnID    string `json:"turn_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Reason    string `json:"reason,omitempty"`
	TextDelta string `json:"text_delta,omitempty"`
}

type latencyStage struct {
	Samples int     `json:"samples"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

type latencySnapshot struct {
	FirstChunk      latencyStage `json:"submit_to_first_chunk"`
	Reply           latencyStage `json:"submit_to_reply"`
	MalformedChunks int          `json:"malformed_chunks"`
	FailedCycles    int          `json:"failed_cycles"`
}

var defaultQuestions = []string{
	"Reply in three words: what is Go?",
	"Show a python hello world in a fenced block.",
	"Reply in three words: why channels?",
	"List three SQL join types, one per line.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int
	var backoffMS int

	fs := flag.NewFlagSet("perfchat", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "techbire-AI base URL")
	fs.IntVar(&cfg.turns, "turns", 10, "number of questions to submit")
	fs.IntVar(&startDelayMS, "start-delay-ms", 200, "delay before the first question in milliseconds")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 2000, "delay between questions in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "timeout waiting for assistant_turn_end per question in milliseconds")
	fs.IntVar(&backoffMS, "rate-limit-backoff-ms", 2000, "wait before resubmitting a throttled question in milliseconds")
	fs.IntVar(&cfg.maxThrottled, "max-throttled", 5, "give up on a question after this many rate_limited notices")
	fs.StringVar(&textsRaw, "texts", "", "questions separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if backoffMS < 100 {
		backoffMS = 100
	}
	if cfg.maxThrottled < 1 {
		cfg.maxThrottled = 1
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.rateLimitBackoff = time.Duration(backoffMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultQuestions...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			t := strings.TrimSpace(part)
			if t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty questions")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("perfchat: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	outcomeCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, outcomeCh, readErrCh, cfg.verbose)

	failed := 0
	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}
		startedAt := time.Now()
		end, err := submitTurn(conn, sessionID, text, outcomeCh, readErrCh, cfg)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if end.Reason != protocol.ReasonCompleted {
			failed++
		}
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d %s in %s\n", i+1, end.Reason, time.Since(startedAt).Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	snap, err := fetchLatency(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch latency: %w", err)
	}
	fmt.Print(formatSnapshot(snap))
	if failed > 0 {
		return fmt.Errorf("%d of %d turns failed", failed, cfg.turns)
	}
	return nil
}

// submitTurn sends text and waits for its turn end. A rate_limited notice
// means the server dropped the question, so it is resent after a backoff.
func submitTurn(conn *websocket.Conn, sessionID, text string, outcomeCh <-chan wsEnvelope, readErrCh <-chan error, cfg options) (wsEnvelope, error) {
	for throttled := 0; ; {
		if err := conn.WriteJSON(protocol.ClientSubmit{
			Type:      protocol.TypeClientSubmit,
			SessionID: sessionID,
			Text:      text,
		}); err != nil {
			return wsEnvelope{}, fmt.Errorf("submit: %w", err)
		}
		env, err := awaitTurnEnd(outcomeCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return wsEnvelope{}, fmt.Errorf("await assistant_turn_end: %w", err)
		}
		if !isRateLimited(env) {
			return env, nil
		}
		throttled++
		if throttled >= cfg.maxThrottled {
			return wsEnvelope{}, fmt.Errorf("rate limited %d times", throttled)
		}
		if cfg.verbose {
			fmt.Fprintf(os.Stderr, "perfchat: rate limited, retrying in %s\n", cfg.rateLimitBackoff)
		}
		time.Sleep(cfg.rateLimitBackoff)
	}
}

func isRateLimited(env wsEnvelope) bool {
	return env.Type == string(protocol.TypeNoticeEvent) && env.Code == protocol.NoticeRateLimited
}

func createSession(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/session", nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func fetchLatency(ctx context.Context, client *http.Client, baseURL string) (latencySnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return latencySnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return latencySnapshot{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return latencySnapshot{}, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snap latencySnapshot
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&snap); err != nil {
		return latencySnapshot{}, err
	}
	return snap, nil
}

func formatSnapshot(snap latencySnapshot) string {
	var b strings.Builder
	for _, s := range []struct {
		name string
		latencyStage
	}{
		{"submit_to_first_chunk", snap.FirstChunk},
		{"submit_to_reply", snap.Reply},
	} {
		fmt.Fprintf(&b, "%-24s n=%-4d p50=%8.1fms p95=%8.1fms max=%8.1fms\n", s.name, s.Samples, s.P50MS, s.P95MS, s.MaxMS)
	}
	fmt.Fprintf(&b, "malformed_chunks=%d failed_cycles=%d\n", snap.MalformedChunks, snap.FailedCycles)
	return b.String()
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop forwards turn ends and rate_limited notices to outcomeCh; the
// latter end a submission without a turn end.
func readLoop(conn *websocket.Conn, outcomeCh chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == string(protocol.TypeAssistantTurnEnd) || isRateLimited(env) {
			select {
			case outcomeCh <- env:
			default:
			}
			continue
		}
		if verbose && (env.Type == string(protocol.TypeNoticeEvent) || env.Type == string(protocol.TypeErrorEvent)) {
			fmt.Fprintf(os.Stderr, "perfchat: %s code=%s detail=%s\n", env.Type, env.Code, env.Detail)
		}
	}
}

func awaitTurnEnd(outcomeCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-outcomeCh:
		return env, nil
	case err := <-readErrCh:
		return wsEnvelope{}, err
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
	}
}

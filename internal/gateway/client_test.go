package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL  string
	srv  *http.Server
	ln   net.Listener
	hits int32
}

func newIPv4Server(t *testing.T, handler http.HandlerFunc) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	s := &ipv4Server{URL: "http://" + ln.Addr().String() + "/sobis/send", ln: ln}
	s.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		handler(w, r)
	})}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	t.Cleanup(s.Close)
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *ipv4Server) Hits() int { return int(atomic.LoadInt32(&s.hits)) }

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func testPayload() Payload {
	return PayloadFromRecord(map[string]string{
		"number":      "+6281234567890",
		"nama":        "Ahmad",
		"pilihan1":    "Teknik Informatika",
		"prodi_lulus": "Sistem Informasi",
	}, StatusFlags{Biodata: true})
}

func newTestClient(url string, retries int) *Client {
	return NewClient(url, 2*time.Second, retries, 10*time.Millisecond, 50*time.Millisecond)
}

func TestSendPostsPayload(t *testing.T) {
	var got map[string]string
	srv := newIPv4Server(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sobis/send" {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		respond(http.StatusOK, `{"success":true,"message":"terkirim"}`)(w, r)
	})

	resp, err := newTestClient(srv.URL, 1).Send(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Success || resp.Message != "terkirim" {
		t.Fatalf("response = %+v", resp)
	}
	want := map[string]string{
		"number": "+6281234567890", "nama": "Ahmad",
		"pilihan1": "Teknik Informatika", "pilihan2": "", "pilihan3": "",
		"programStudiDilulusi": "Sistem Informasi",
		"bayarPendaftaran":     "N", "biodata": "Y", "uploadBerkas": "N", "validasi": "N", "daftarUlang": "N",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%s] = %q, want %q", k, got[k], v)
		}
	}
	if len(got) != len(want) {
		t.Errorf("payload has %d fields, want %d: %v", len(got), len(want), got)
	}
}

func TestSendClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		ok      bool
		check   func(error) bool
		message string
	}{
		{name: "status success", status: 200, body: `{"status":"success"}`, ok: true},
		{name: "created with success", status: 201, body: `{"success":true}`, ok: true},
		{
			name: "2xx with failure flag", status: 200, body: `{"success":false,"message":"nomor tidak terdaftar"}`,
			check:   func(err error) bool { var e *RejectedError; return errors.As(err, &e) },
			message: "nomor tidak terdaftar",
		},
		{
			name: "2xx without indicator", status: 200, body: `{"data":1}`,
			check: func(err error) bool { var e *RejectedError; return errors.As(err, &e) },
		},
		{
			name: "2xx malformed body", status: 200, body: `not json`,
			check:   func(err error) bool { return strings.Contains(err.Error(), "decode response") },
			message: "decode response",
		},
		{
			name: "400 message array", status: 400, body: `{"message":["number is required","nama is required"]}`,
			check:   func(err error) bool { var e *BadRequestError; return errors.As(err, &e) },
			message: "number is required; nama is required",
		},
		{
			name: "500 error field", status: 500, body: `{"error":"whatsapp session down"}`,
			check:   func(err error) bool { var e *ServerError; return errors.As(err, &e) },
			message: "whatsapp session down",
		},
		{
			name: "502 raw body", status: 502, body: `Bad Gateway`,
			check:   func(err error) bool { var e *ServerError; return errors.As(err, &e) },
			message: "Bad Gateway",
		},
		{
			name: "403", status: 403, body: `{}`,
			check: func(err error) bool { var e *AuthError; return errors.As(err, &e) },
		},
		{
			name: "404 generic", status: 404, body: `{"message":"not here"}`,
			check:   func(err error) bool { var e *APIError; return errors.As(err, &e) && e.StatusCode == 404 },
			message: "not here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIPv4Server(t, respond(tt.status, tt.body))
			_, err := newTestClient(srv.URL, 3).Send(context.Background(), testPayload())
			if tt.ok {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			if tt.message != "" && !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.message)
			}
			if srv.Hits() != 1 {
				t.Fatalf("non-429 failures must not be retried, got %d attempts", srv.Hits())
			}
		})
	}
}

func TestSendRetriesOn429(t *testing.T) {
	var n int32
	srv := newIPv4Server(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			respond(http.StatusTooManyRequests, `{"message":"slow down"}`)(w, r)
			return
		}
		respond(http.StatusOK, `{"success":true}`)(w, r)
	})
	if _, err := newTestClient(srv.URL, 3).Send(context.Background(), testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if srv.Hits() != 2 {
		t.Fatalf("attempts = %d, want 2", srv.Hits())
	}
}

func TestSendRateLimitExhausted(t *testing.T) {
	srv := newIPv4Server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("X-Request-Id", "req_429")
		respond(http.StatusTooManyRequests, `{"message":"slow down"}`)(w, r)
	})
	_, err := newTestClient(srv.URL, 1).Send(context.Background(), testPayload())
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != 7*time.Second || !strings.Contains(err.Error(), "req_429") {
		t.Fatalf("rate limit error = %v (retry after %v)", err, rl.RetryAfter)
	}
}

func TestSendHonoursContext(t *testing.T) {
	srv := newIPv4Server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		respond(http.StatusTooManyRequests, `{}`)(w, r)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := newTestClient(srv.URL, 3).Send(ctx, testPayload())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Send ignored context cancellation during Retry-After wait")
	}
}

func TestRecordSender(t *testing.T) {
	srv := newIPv4Server(t, respond(http.StatusOK, `{"status":"success"}`))
	s := NewRecordSender(newTestClient(srv.URL, 1), StatusFlags{})
	if err := s.Send(context.Background(), map[string]string{"number": "+6281234567890"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

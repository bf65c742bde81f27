// Package update receives replacement binaries over HTTP. A completed
// update is installed next to the running executable and announced on
// Pending; the daemon then exits so its supervisor restarts it.
package update

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/itohio/gomhz/pkg/config"
)

// TokenHeader carries the shared secret.
const TokenHeader = "X-Update-Token"

// MaxSize limits the accepted binary size.
const MaxSize = 64 << 20

// Phase of the last update.
const (
	PhaseIdle      = "idle"
	PhaseReceiving = "receiving"
	PhaseDone      = "done"
	PhaseFailed    = "failed"
)

// Kind classifies update failures.
type Kind string

const (
	KindAuth    Kind = "auth"    // missing or wrong token
	KindBegin   Kind = "begin"   // staging file could not be created
	KindConnect Kind = "connect" // client went away mid transfer
	KindReceive Kind = "receive" // body could not be stored or was the wrong size
	KindEnd     Kind = "end"     // staging file could not be installed
)

// Error is an update failure of a given kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("update %s failed: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrBadToken   = errors.New("bad update token")
	ErrInProgress = errors.New("update already in progress")
	ErrSize       = errors.New("size mismatch")
)

// State is reported by GET /update/status.
type State struct {
	Phase    string    `json:"phase"`
	Received int64     `json:"received"`
	Total    int64     `json:"total"`
	Error    string    `json:"error,omitempty"`
	Updated  time.Time `json:"updated"`
}

// Server accepts binaries on POST /update.
type Server struct {
	target string
	token  string
	log    logrus.FieldLogger

	mu      sync.Mutex
	state   State
	pending chan struct{}
}

// New creates an update server. An empty cfg.Target replaces the running
// executable. An empty token refuses every update.
func New(cfg config.UpdateConfig, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	target := cfg.Target
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		target = exe
	}
	if cfg.Token == "" {
		log.Warnf("No update token configured, remote updates are disabled")
	}
	return &Server{
		target:  target,
		token:   cfg.Token,
		log:     log,
		state:   State{Phase: PhaseIdle},
		pending: make(chan struct{}, 1),
	}, nil
}

// Pending receives a value once an update has been installed.
func (s *Server) Pending() <-chan struct{} {
	return s.pending
}

// Status returns the state of the last update.
func (s *Server) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handler returns the update routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/update/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infof("Update listener on %s, target %s", addr, s.target)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r.Header.Get(TokenHeader)) {
		s.log.Errorf("%v", &Error{Kind: KindAuth, Err: ErrBadToken})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.begin(r.ContentLength) {
		http.Error(w, ErrInProgress.Error(), http.StatusConflict)
		return
	}

	if err := s.install(w, r); err != nil {
		s.fail(err)
		status := http.StatusInternalServerError
		var uerr *Error
		if errors.As(err, &uerr) && (uerr.Kind == KindConnect || uerr.Kind == KindReceive) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	s.finish()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))

	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *Server) authorized(token string) bool {
	if s.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// install streams the body into a staging file and renames it over the
// target.
func (s *Server) install(w http.ResponseWriter, r *http.Request) error {
	dir := filepath.Dir(s.target)
	staging, err := os.CreateTemp(dir, "."+filepath.Base(s.target)+".update-*")
	if err != nil {
		return &Error{Kind: KindBegin, Err: err}
	}
	name := staging.Name()
	installed := false
	defer func() {
		if !installed {
			os.Remove(name)
		}
	}()

	body := http.MaxBytesReader(w, r.Body, MaxSize)
	n, err := io.Copy(staging, &progressReader{r: body, s: s})
	if err != nil {
		staging.Close()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &Error{Kind: KindReceive, Err: err}
		}
		return &Error{Kind: KindConnect, Err: err}
	}
	if n == 0 || (r.ContentLength > 0 && n != r.ContentLength) {
		staging.Close()
		return &Error{Kind: KindReceive, Err: fmt.Errorf("%w: got %d of %d bytes", ErrSize, n, r.ContentLength)}
	}

	if err := staging.Sync(); err != nil {
		staging.Close()
		return &Error{Kind: KindEnd, Err: err}
	}
	if err := staging.Close(); err != nil {
		return &Error{Kind: KindEnd, Err: err}
	}
	if err := os.Chmod(name, 0755); err != nil {
		return &Error{Kind: KindEnd, Err: err}
	}
	if err := os.Rename(name, s.target); err != nil {
		return &Error{Kind: KindEnd, Err: err}
	}
	installed = true
	return nil
}

func (s *Server) begin(total int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == PhaseReceiving {
		return false
	}
	s.state = State{Phase: PhaseReceiving, Total: total, Updated: time.Now()}
	s.log.Infof("Update started (%d bytes)", total)
	return true
}

func (s *Server) progress(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.state.Received
	s.state.Received += n
	s.state.Updated = time.Now()
	if total := s.state.Total; total > 0 {
		if prev, cur := before*10/total, s.state.Received*10/total; cur > prev {
			s.log.Infof("Update progress: %d%%", cur*10)
		}
	}
}

func (s *Server) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = PhaseDone
	s.state.Updated = time.Now()
	s.log.Infof("Update finished, %d bytes installed to %s", s.state.Received, s.target)
}

func (s *Server) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = PhaseFailed
	s.state.Error = err.Error()
	s.state.Updated = time.Now()
	s.log.Errorf("%v", err)
}

type progressReader struct {
	r io.Reader
	s *Server
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.s.progress(int64(n))
	}
	return n, err
}

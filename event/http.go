package event

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"

	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/fops"
)

// Server exposes the status/notification HTTP surface spec §6 implies a
// production daemon needs: child liveness status, child up/down transition
// injection, and a heal-trigger endpoint, all behind a bearer-JWT check
// (/healthz alone is unauthenticated).
type Server struct {
	Router    *Router
	JWTSecret []byte

	status fasthttp.Server
}

func NewServer(router *Router, jwtSecret []byte) *Server {
	s := &Server{Router: router, JWTSecret: jwtSecret}
	s.status.Handler = s.handle
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	return s.status.ListenAndServe(addr)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())

	if path == "/healthz" {
		ctx.SetStatusCode(fasthttp.StatusOK)
		return
	}

	if !s.authorized(ctx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		return
	}

	switch {
	case path == "/status":
		s.handleStatus(ctx)
	case strings.HasPrefix(path, "/children/"):
		s.handleChildTransition(ctx, strings.TrimPrefix(path, "/children/"))
	case strings.HasPrefix(path, "/heal/"):
		s.handleHealTrigger(ctx, strings.TrimPrefix(path, "/heal/"))
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) authorized(ctx *fasthttp.RequestCtx) bool {
	if len(s.JWTSecret) == 0 {
		return true // auth disabled, e.g. local/dev bring-up
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	tokenStr := strings.TrimPrefix(auth, prefix)
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return s.JWTSecret, nil
	})
	return err == nil && token.Valid
}

type statusReport struct {
	Live map[int]bool `json:"live"`
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	report := statusReport{Live: make(map[int]bool)}
	for _, i := range s.Router.LiveChildren() {
		report.Live[i] = true
	}
	body, err := json.Marshal(report)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	_, _ = ctx.Write(body)
}

// handleChildTransition accepts POST /children/<index>?event=up|down and
// feeds it straight to Router.Observe, the RPC-level alternative to the
// Kubernetes pod-informer liveness source in k8s.go.
func (s *Server) handleChildTransition(ctx *fasthttp.RequestCtx, idxStr string) {
	idx := 0
	for _, r := range idxStr {
		if r < '0' || r > '9' {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		idx = idx*10 + int(r-'0')
	}
	ev := string(ctx.QueryArgs().Peek("event"))
	var t Transition
	switch ev {
	case "up":
		t = ChildUp
	case "down":
		t = ChildDown
	default:
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	s.Router.Observe(idx, t)
	nlog.Infof("event: http transition child=%d event=%s", idx, ev)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// handleHealTrigger accepts POST /heal/<32-hex-char gfid>, the operator
// escape hatch for "explicit request" in spec §4.5's list of heal triggers.
func (s *Server) handleHealTrigger(ctx *fasthttp.RequestCtx, gfidHex string) {
	raw, err := hex.DecodeString(gfidHex)
	if err != nil || len(raw) != len(fops.GFID{}) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	var gfid fops.GFID
	copy(gfid[:], raw)
	s.Router.TriggerIfNew(ctx, gfid)
	ctx.SetStatusCode(fasthttp.StatusAccepted)
}

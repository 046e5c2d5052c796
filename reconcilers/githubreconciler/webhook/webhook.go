/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package webhook receives GitHub App deliveries and routes them to the
// issue reconciler.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chainguard.dev/issueagent/reconcilers/githubreconciler/issuereconciler"
	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v84/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "issueagent_webhook_deliveries_total",
	Help: "Webhook deliveries by event and result",
}, []string{"event", "result"})

// Dispatcher starts runs in the background. *issuereconciler.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(issue issuereconciler.Issue)
}

// Reconciler handles the events that do not start a run.
// *issuereconciler.Reconciler implements it.
type Reconciler interface {
	ProductID() string
	MarkMerged(ctx context.Context, owner, repo, branch string) (bool, error)
	InstallationAdded(ctx context.Context, id int64, account string) error
	InstallationRemoved(ctx context.Context, id int64) error
	RepositoryRemoved(ctx context.Context, id int64, fullName string) error
}

var (
	_ Dispatcher = (*issuereconciler.Dispatcher)(nil)
	_ Reconciler = (*issuereconciler.Reconciler)(nil)
)

// Option configures a Server.
type Option func(*Server) error

// WithRateLimit admits at most rps deliveries per second with the given
// burst. Excess deliveries are answered with 429 so GitHub redelivers them.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) error {
		if rps <= 0 || burst <= 0 {
			return errors.New("rate limit and burst must be positive")
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// Server serves the webhook endpoint.
type Server struct {
	secret     []byte
	dispatcher Dispatcher
	reconciler Reconciler
	limiter    *rate.Limiter
}

// New creates a Server that validates deliveries with secret.
func New(secret []byte, d Dispatcher, r Reconciler, opts ...Option) (*Server, error) {
	if len(secret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	if d == nil || r == nil {
		return nil, errors.New("dispatcher and reconciler are required")
	}
	s := &Server{
		secret:     secret,
		dispatcher: d,
		reconciler: r,
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return s, nil
}

// Router returns the HTTP handler of the server.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), withLogger(ctx))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhook", s.handle)
	return r
}

// withLogger carries the server's logger into each request.
func withLogger(ctx context.Context) gin.HandlerFunc {
	base := clog.FromContext(ctx)
	return func(c *gin.Context) {
		log := base.With("delivery", c.GetHeader("X-GitHub-Delivery")).With("event", c.GetHeader("X-GitHub-Event"))
		c.Request = c.Request.WithContext(clog.WithLogger(c.Request.Context(), log))
		c.Next()
	}
}

func (s *Server) handle(c *gin.Context) {
	ctx := c.Request.Context()
	log := clog.FromContext(ctx)
	event := github.WebHookType(c.Request)

	if !s.limiter.Allow() {
		deliveries.WithLabelValues(event, "throttled").Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many deliveries"})
		return
	}

	payload, err := github.ValidatePayload(c.Request, s.secret)
	if err != nil {
		log.With("error", err).Warn("Rejected delivery")
		deliveries.WithLabelValues(event, "unauthorized").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	parsed, err := github.ParseWebHook(event, payload)
	if err != nil {
		deliveries.WithLabelValues(event, "malformed").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.route(ctx, parsed)
	if err != nil {
		log.With("error", err).Error("Failed to handle delivery")
		deliveries.WithLabelValues(event, "error").Inc()
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	deliveries.WithLabelValues(event, result).Inc()
	status := http.StatusOK
	if result == resultDispatched {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"status": result})
}

const (
	resultDispatched = "dispatched"
	resultHandled    = "handled"
	resultIgnored    = "ignored"
)

func (s *Server) route(ctx context.Context, event any) (string, error) {
	log := clog.FromContext(ctx)
	switch e := event.(type) {
	case *github.IssuesEvent:
		if e.GetAction() != "labeled" || e.GetLabel().GetName() != s.reconciler.ProductID() {
			return resultIgnored, nil
		}
		if e.GetIssue().GetState() == "closed" {
			log.Info("Ignoring label on closed issue")
			return resultIgnored, nil
		}
		s.dispatcher.Dispatch(issuereconciler.Issue{
			InstallationID: e.GetInstallation().GetID(),
			Owner:          e.GetRepo().GetOwner().GetLogin(),
			Repo:           e.GetRepo().GetName(),
			Number:         e.GetIssue().GetNumber(),
			Title:          e.GetIssue().GetTitle(),
			Body:           e.GetIssue().GetBody(),
			URL:            e.GetIssue().GetHTMLURL(),
		})
		return resultDispatched, nil

	case *github.InstallationEvent:
		inst := e.GetInstallation()
		switch e.GetAction() {
		case "created":
			return resultHandled, s.reconciler.InstallationAdded(ctx, inst.GetID(), inst.GetAccount().GetLogin())
		case "deleted":
			return resultHandled, s.reconciler.InstallationRemoved(ctx, inst.GetID())
		}
		return resultIgnored, nil

	case *github.InstallationRepositoriesEvent:
		inst := e.GetInstallation()
		switch e.GetAction() {
		case "added":
			return resultHandled, s.reconciler.InstallationAdded(ctx, inst.GetID(), inst.GetAccount().GetLogin())
		case "removed":
			for _, repo := range e.RepositoriesRemoved {
				if err := s.reconciler.RepositoryRemoved(ctx, inst.GetID(), repo.GetFullName()); err != nil {
					return resultHandled, err
				}
			}
			return resultHandled, nil
		}
		return resultIgnored, nil

	case *github.PullRequestEvent:
		if e.GetAction() != "closed" || !e.GetPullRequest().GetMerged() {
			return resultIgnored, nil
		}
		ok, err := s.reconciler.MarkMerged(ctx, e.GetRepo().GetOwner().GetLogin(), e.GetRepo().GetName(), e.GetPullRequest().GetHead().GetRef())
		if err != nil || !ok {
			return resultIgnored, err
		}
		return resultHandled, nil
	}
	return resultIgnored, nil
}

package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initWorkflow(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      newRouter(env),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the full API surface over an initialized workflow.
func newRouter(env *workflowEnv) http.Handler {
	api := &apiServer{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		MaxAge:         300,
	}))

	r.Get("/health", api.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/projects", api.createProject)
		r.Get("/projects", api.listProjects)
		r.Post("/projects/{projectID}/origin", api.setProjectOrigin)
		r.Post("/projects/{projectID}/rfps", api.createRfp)

		r.Get("/rfps", api.listRfps)
		r.Route("/rfps/{rfpID}", func(r chi.Router) {
			r.Get("/", api.getRfp)
			r.Post("/versions", api.addVersion)
			r.Post("/analyze", api.triggerAnalysis)
			r.Post("/retry", api.retryParse)
			r.Get("/runs", api.getExtractionRuns)
			r.Get("/extraction", api.getLatestExtraction)
			r.Post("/candidates/accept", api.acceptCandidates)
			r.Post("/candidates/reject", api.rejectCandidates)
			r.Post("/candidates/merge", api.mergeCandidates)
			r.Post("/hold", api.holdRfp)
			r.Post("/resume", api.resumeRfp)
			r.Post("/reanalyze", api.requestReanalysis)
			r.Post("/confirm", api.confirmCandidates)
			r.Post("/approval", api.observeApproval)
			r.Get("/diff", api.getDiff)
			r.Get("/diff/export", api.exportDiff)
			r.Get("/requirements", api.listRequirements)
			r.Get("/export", api.exportRequirements)
		})

		r.Patch("/candidates/{candidateID}", api.updateCandidate)
		r.Get("/requirements/{requirementID}/evidence", api.getEvidence)
	})

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

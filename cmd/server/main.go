package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kiliankoe/lastword/internal/ai"
	"github.com/kiliankoe/lastword/internal/ai/ollama"
	"github.com/kiliankoe/lastword/internal/ai/openai"
	"github.com/kiliankoe/lastword/internal/api"
	"github.com/kiliankoe/lastword/internal/config"
	"github.com/kiliankoe/lastword/internal/events"
	"github.com/kiliankoe/lastword/internal/game"
	"github.com/kiliankoe/lastword/internal/oracle"
	"github.com/kiliankoe/lastword/internal/ws"
	staticserver "github.com/kiliankoe/lastword/static"
)

const version = "v0.1.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`lastword - elimination quiz where the worst answer goes home

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                   Port to listen on (default: 8080)
  LOG_LEVEL              debug, info, warn or error (default: info)
  DEFAULT_PROVIDER       AI provider: "openai" or "ollama" (default: openai)
  QUESTION_MODEL         Model that asks the questions
  RANKING_MODEL          Model that scores the answers
  PLAYER_MODEL           Model that plays automated contestants
  OPENAI_API_KEY         API key for the openai compatible provider
  OPENAI_BASE_URL        Base URL, e.g. https://api.groq.com/openai/v1
  OLLAMA_HOST            Ollama host URL (default: http://localhost:11434)
  QUESTION_BANK          YAML question file; replaces the question model
  MIN_CONTESTANTS        Contestants needed to start (default: 2)
  ANSWER_WINDOW_SECONDS  Seconds per answer window (default: 30)
  RANK_ATTEMPTS          Ranking attempts per turn (default: 3)
  RANK_BACKOFF           Wait between ranking attempts (default: 500ms)
  ORACLE_TIMEOUT         Timeout for a single model call (default: 30s)
  ALLOW_LATE_JOIN        Allow joining a running session (default: false)
  SINGLE_SESSION         Allow only one running session (default: true)
  GM_USER / GM_PASS      Basic auth for operator routes
  EXPORT_ENABLED         Append turn results to EXPORT_FILE (default: false)
  NATS_URL               Publish session events to NATS (optional)
  NATS_SUBJECT           Subject prefix (default: lastword)
  CORS_ORIGINS           Comma separated allowed origins (default: *)

Visit http://localhost:8080 after starting the server.
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("lastword %s\n", version)
		return
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := newProvider(cfg)
	var questions game.QuestionSource
	var questionSub game.Publisher
	if cfg.QuestionBank != "" {
		bank, err := oracle.LoadQuestionBank(cfg.QuestionBank)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.QuestionBank).Int("questions", len(bank.Questions)).Msg("using question bank")
		questions, questionSub = bank, bank
	} else {
		llm := oracle.NewLLMQuestions(provider, cfg.QuestionModel)
		questions, questionSub = llm, llm
	}

	rm := game.NewRegistry(game.Deps{
		Questions:     questions,
		Ranker:        oracle.NewLLMRanker(provider, cfg.RankingModel),
		Answerer:      oracle.NewLLMAnswerer(provider, cfg.PlayerModel, cfg.SystemPrompt),
		RankAttempts:  cfg.RankAttempts,
		RankBackoff:   cfg.RankBackoff,
		OracleTimeout: cfg.OracleTimeout,
	})
	defer rm.Shutdown()
	rm.Subscribe(questionSub)

	defaults := game.SessionConfig{
		MinContestants:      cfg.MinContestants,
		AnswerWindowSeconds: cfg.AnswerWindowSeconds,
		AllowLateJoin:       cfg.AllowLateJoin,
	}

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		code, _ := rm.Active()
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "activeSession": code, "version": version})
	})

	var operator []gin.HandlerFunc
	if cfg.OperatorAuth() {
		auth := gin.BasicAuth(gin.Accounts{cfg.GMUser: cfg.GMPass})
		operator = append(operator, auth)
		// operator console (serves the SPA index behind basic auth)
		r.GET("/gm", auth, gin.WrapH(staticserver.Handler()))
		r.GET("/gm/*any", auth, gin.WrapH(staticserver.Handler()))
	} else {
		log.Warn().Msg("GM_USER/GM_PASS not set; operator routes are unprotected")
	}

	api.New(rm, api.WithDefaults(defaults), api.WithSingleSession(cfg.SingleSession)).Register(r, operator...)

	stream := ws.NewStream(rm)
	rm.Subscribe(stream)
	r.GET("/api/sessions/:code/stream", stream.Handle)

	sock := ws.New(rm, defaults)
	if cfg.OperatorAuth() {
		sock.SetOperator(cfg.GMUser, cfg.GMPass)
	}
	rm.Subscribe(sock)
	io := sock.Mount(r)
	defer io.Close()

	if cfg.ExportEnabled {
		rm.Subscribe(game.NewExporter(cfg.ExportFile))
		log.Info().Str("file", cfg.ExportFile).Msg("exporting turn results")
	}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return err
		}
		defer nc.Close()
		rm.Subscribe(nc)
		log.Info().Str("url", cfg.NATSURL).Str("subject", cfg.NATSSubject).Msg("publishing session events to NATS")
	}

	// Serve frontend for all other routes
	r.NoRoute(gin.WrapH(staticserver.Handler()))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("provider", cfg.DefaultProvider).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, st := range rm.List() {
			if st.Phase != game.PhaseFinished {
				if sess, err := rm.Get(st.Code); err == nil {
					_ = sess.Abort("server shutting down")
				}
			}
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newProvider(cfg config.Config) ai.Provider {
	if cfg.DefaultProvider == "ollama" {
		return ollama.New(cfg.OllamaHost)
	}
	return openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL)
}

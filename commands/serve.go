package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/api"
	"github.com/lockwhz/scan-triage-service/internal/queue"
	"github.com/lockwhz/scan-triage-service/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook API and the scan workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	defer a.shutdown(context.WithoutCancel(ctx))
	log := a.log

	if a.cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET vazio; todo webhook será rejeitado")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		log.Error("falha ao abrir o store", zap.Error(err))
		return err
	}
	defer store.Close()

	dispatcher := a.dispatcher()
	defer dispatcher.Close()

	q := queue.New(store, dispatcher, queue.Options{
		Retention:  a.cfg.ResultRetention,
		JobTimeout: a.cfg.JobTimeout,
		Log:        log,
		Metrics:    a.metrics,
	})

	pipeline, err := a.pipeline()
	if err != nil {
		log.Error("falha ao montar o pipeline", zap.Error(err))
		return err
	}
	notifier := a.notifier()

	consumer := &services.JobConsumer{
		Queue:      q,
		Pipeline:   pipeline,
		Notifier:   notifier,
		Workers:    a.cfg.Workers,
		JobTimeout: a.cfg.JobTimeout,
		Metrics:    a.metrics,
		Log:        log,
	}
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Start(ctx)
	}()

	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: a.cfg.HTTPAddr,
		Handler: (&api.Server{
			Queue:         q,
			WebhookSecret: a.cfg.WebhookSecret,
			APIKey:        a.cfg.APIKey,
			Notifier:      notifier,
			Metrics:       a.metrics,
			Log:           log,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("servidor HTTP iniciado", zap.String("addr", a.cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("sinal recebido, encerrando")
	case err := <-serverErr:
		if err != nil {
			log.Error("servidor HTTP falhou", zap.Error(err))
			cancel()
			<-consumerDone
			return err
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown do servidor HTTP", zap.Error(err))
	}

	// workers terminam o job corrente antes de sair
	<-consumerDone
	return nil
}

// Command harmonyd is the reference binary wiring internal/config,
// internal/logging, internal/app, and internal/server together,
// following docker-compose/containerd/main.go's
// signal-channel-then-graceful-Stop shutdown shape.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/risenfromashes/harmony-http/internal/app"
	"github.com/risenfromashes/harmony-http/internal/config"
	"github.com/risenfromashes/harmony-http/internal/db"
	"github.com/risenfromashes/harmony-http/internal/events"
	"github.com/risenfromashes/harmony-http/internal/logging"
	"github.com/risenfromashes/harmony-http/internal/router"
	"github.com/risenfromashes/harmony-http/internal/server"
	"github.com/risenfromashes/harmony-http/internal/task"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harmonyd",
		Short: "HTTP/2 application server",
	}
	cfg := config.Flags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cfg)
	}
	return cmd
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.New(cfg.Debug)

	a := routes()

	srv, err := server.New(cfg, a, log)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-done:
		return err
	case s := <-sig:
		log.Infof("harmonyd: stopping after receiving %s", s)
		srv.Shutdown()
		return nil
	}
}

// routes registers the demonstration endpoints from spec.md §8's
// testable-properties scenarios: a blocking JSON handler, a
// suspendable one chaining two pipelined DB queries, and an
// EventStream subscription.
func routes() *app.App {
	a := app.New()

	a.GET("/api/{id:int}/messages", func(ctx *app.Context) {
		id, _ := ctx.ParamInt("id")
		_ = ctx.SendJSON("200", map[string]any{"id": id, "messages": []string{}})
	})

	a.HandleTask(router.POST, "/api/{id:int}/messages/{to:int}/{text}", func(ctx *app.Context) *task.Task[struct{}] {
		id, _ := ctx.ParamInt("id")
		to, _ := ctx.ParamInt("to")
		text, _ := ctx.Param("text")
		channel := fmt.Sprintf("messages/%d", to)

		result := task.Pending[struct{}]()
		insert := ctx.QueryParams(
			"insert into messages (sender, recipient, body) values ($1, $2, $3)",
			[]string{fmt.Sprint(id), fmt.Sprint(to), text},
		)
		insert.OnResume(func(res db.Result, err error) {
			if err != nil || res.Kind == db.KindError {
				ctx.Send("500", "text/plain; charset=utf-8", []byte(errMessage(res, err)))
				result.Resume(struct{}{}, nil)
				return
			}
			notify := ctx.QueryParams("select pg_notify($1, $2)", []string{channel, text})
			notify.OnResume(func(_ db.Result, err error) {
				if err == nil {
					ctx.Publish(channel, events.OwnedPayload([]byte(text)))
				}
				_ = ctx.SendJSON("201", map[string]any{"id": id, "to": to, "text": text})
				result.Resume(struct{}{}, nil)
			})
		})
		return result
	})

	a.GETTask("/events/{channel}", func(ctx *app.Context) *task.Task[struct{}] {
		channel, _ := ctx.Param("channel")
		ctx.InitEventSource(channel)
		return task.Resolved(struct{}{})
	})

	return a
}

func errMessage(res db.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.ErrorMessage()
}

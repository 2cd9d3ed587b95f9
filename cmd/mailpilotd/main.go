// mailpilotd is the inbox automation daemon: it polls a mailbox for
// unseen mail, drafts replies via a language model, and auto-sends or
// escalates each conversation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mailpilot/internal/automation"
	"mailpilot/internal/credential"
	"mailpilot/internal/language"
	"mailpilot/internal/llm"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/ops"
	"mailpilot/internal/store"
	isync "mailpilot/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mailpilotd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	setSecret := flag.String("set-secret", "",
		"store a secret in the OS keyring and exit ("+strings.Join(credential.ValidKeys(), ", ")+"); value is read from stdin")
	deleteSecret := flag.String("delete-secret", "",
		"remove a secret from the OS keyring and exit")
	flag.Parse()

	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if *setSecret != "" || *deleteSecret != "" {
		return manageSecret(cfg, *setSecret, *deleteSecret)
	}

	logger := cfg.NewLogger()

	if err := credential.FillSecrets(cfg); err != nil {
		logger.Warn().Err(err).Msg("Could not resolve secrets from keyring")
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	imapClient := mailbox.NewClient(cfg.IMAP, logger)
	sender := mailbox.NewSender(cfg.SMTP, imapClient, logger)
	gateway := &mailbox.Gateway{Client: imapClient, Sender: sender}

	detector := language.NewDetector(cfg.Language)
	generator := llm.NewGenerator(cfg.LLM, logger)

	engine := automation.NewEngine(
		st, gateway, detector, generator,
		automation.OptionsFromConfig(cfg),
		logger,
	)

	poller := isync.New(gateway, engine, cfg.Poll, logger)
	poller.Start()
	defer poller.Stop()

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(cfg.Ops.Addr, st, poller, logger)
		opsServer.Start()
	}

	logger.Info().
		Str("mailbox", cfg.IMAP.Username).
		Str("model", cfg.LLM.Model).
		Bool("auto_send", cfg.LLM.AutoSend).
		Msg("mailpilotd running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	if opsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Ops server shutdown failed")
		}
	}

	return nil
}

// manageSecret handles the one-shot keyring flags. The set value is read
// from stdin so it never appears in the shell history or process list.
func manageSecret(cfg *model.AppConfig, set, del string) error {
	service := credential.ServiceName(cfg)

	if set != "" {
		if err := credential.ValidateKey(set); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Enter value for %s: ", set)
		value, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading secret value: %w", err)
		}
		value = strings.TrimRight(value, "\r\n")
		if value == "" {
			return fmt.Errorf("empty secret value for %s", set)
		}

		if err := credential.Set(service, set, value); err != nil {
			return err
		}
		fmt.Println("Stored", set, "in keyring service", service)
		return nil
	}

	if err := credential.ValidateKey(del); err != nil {
		return err
	}
	if err := credential.Delete(service, del); err != nil {
		return err
	}
	fmt.Println("Removed", del, "from keyring service", service)
	return nil
}

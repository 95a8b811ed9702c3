package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tabvault/tabvault/internal/config"
	"github.com/tabvault/tabvault/internal/library"
	"github.com/tabvault/tabvault/internal/logging"
	"github.com/tabvault/tabvault/internal/remote"
	"github.com/tabvault/tabvault/internal/server"
	"github.com/tabvault/tabvault/internal/session"
	"github.com/tabvault/tabvault/internal/signing"
	"github.com/tabvault/tabvault/internal/storage"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tabvault",
		Short: "Local-first tab manager daemon and CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newLogoutCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma-separated CORS origins")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote service base URL")
	cmd.PersistentFlags().String("signing-secret", "", "Shared request-signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// appState is the wiring shared by every command: the opened store plus the
// repositories and session manager loaded from it.
type appState struct {
	config      config.AppConfig
	logger      *zap.Logger
	store       *storage.SQLiteStore
	spaces      *library.SpaceRepository
	collections *library.CollectionRepository
	tabs        *library.TabRepository
	session     *session.Manager
}

func (s *appState) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func openAppState(ctx context.Context) (*appState, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	ids := library.NewUUIDProvider()
	spaces, err := library.NewSpaceRepository(library.SpaceRepositoryConfig{Store: store, IDProvider: ids, Logger: logger})
	if err != nil {
		return nil, err
	}
	collections, err := library.NewCollectionRepository(library.CollectionRepositoryConfig{Store: store, IDProvider: ids, Logger: logger})
	if err != nil {
		return nil, err
	}
	tabs, err := library.NewTabRepository(library.TabRepositoryConfig{Store: store, IDProvider: ids, Logger: logger})
	if err != nil {
		return nil, err
	}
	manager, err := session.NewManager(session.ManagerConfig{Store: store, Logger: logger})
	if err != nil {
		return nil, err
	}

	spaces.Load(ctx)
	collections.Load(ctx)
	tabs.Load(ctx)
	manager.Load(ctx)

	return &appState{
		config:      appConfig,
		logger:      logger,
		store:       store,
		spaces:      spaces,
		collections: collections,
		tabs:        tabs,
		session:     manager,
	}, nil
}

// newRemoteClient builds the remote gateway, or fails when the remote
// configuration is incomplete.
func newRemoteClient(state *appState) (*remote.Client, error) {
	if err := state.config.RequireRemote(); err != nil {
		return nil, err
	}
	signer, err := signing.NewSigner(signing.SignerConfig{Secret: []byte(state.config.SigningSecret)})
	if err != nil {
		return nil, err
	}
	return remote.NewClient(remote.ClientConfig{
		BaseURL:    state.config.RemoteBaseURL,
		HTTPClient: &http.Client{Timeout: state.config.RemoteTimeout},
		Tokens:     state.session,
		Signer:     signer,
		Logger:     state.logger,
	})
}

func runServer(ctx context.Context) error {
	state, err := openAppState(ctx)
	if err != nil {
		return err
	}
	defer state.close()

	deps := server.Dependencies{
		Spaces:         state.spaces,
		Collections:    state.collections,
		Tabs:           state.tabs,
		Session:        state.session,
		Logger:         state.logger,
		AllowedOrigins: state.config.AllowedOrigins,
	}
	// The daemon serves the library offline; auth proxy routes light up only
	// when the remote service is configured.
	if state.config.RequireRemote() == nil {
		client, err := newRemoteClient(state)
		if err != nil {
			return err
		}
		deps.Remote = client
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    state.config.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		state.logger.Info("server starting", zap.String("address", state.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLoginCommand() *cobra.Command {
	var (
		email    string
		register bool
		password string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the remote service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return fmt.Errorf("--email is required")
			}
			return runLogin(cmd.Context(), email, password, register)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email address")
	cmd.Flags().BoolVar(&register, "register", false, "Create a new account instead of logging in")
	cmd.Flags().StringVar(&password, "password", "", "Password for the new account (register only)")
	return cmd
}

func runLogin(ctx context.Context, email, password string, register bool) error {
	state, err := openAppState(ctx)
	if err != nil {
		return err
	}
	defer state.close()

	client, err := newRemoteClient(state)
	if err != nil {
		return err
	}

	purpose := signing.PurposeLogin
	if register {
		purpose = signing.PurposeRegister
	}
	if err := client.SendVerificationCode(ctx, email, purpose); err != nil {
		return fmt.Errorf("sending verification code: %w", err)
	}
	fmt.Printf("Verification code sent to %s.\n", email)

	code, err := promptLine("Enter code: ")
	if err != nil {
		return err
	}

	var response remote.TokenResponse
	if register {
		response, err = client.Register(ctx, email, code, password)
	} else {
		response, err = client.LoginWithCode(ctx, email, code)
	}
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	if err := state.session.SetAuth(ctx, response.User, response.AccessToken, response.ExpiresIn); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	fmt.Printf("Logged in as %s.\n", response.User.Email)
	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openAppState(cmd.Context())
			if err != nil {
				return err
			}
			defer state.close()

			if err := state.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openAppState(cmd.Context())
			if err != nil {
				return err
			}
			defer state.close()

			snapshot := state.session.Current()
			if !snapshot.Authenticated {
				fmt.Println("Not logged in.")
				return nil
			}

			fmt.Printf("Logged in as %s (expires %s).\n",
				snapshot.User.Email, snapshot.ExpiresAt.Local().Format(time.RFC1123))
			if claims, err := session.AccessTokenClaims(snapshot.Token); err == nil {
				fmt.Printf("Token subject %s issued by %s.\n", claims.Subject, claims.Issuer)
			}
			return nil
		},
	}
}

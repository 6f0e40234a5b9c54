package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/k0kubun/pp/v3"

	"github.com/lattice-db/lattice/internal/config"
	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/httpapi"
	"github.com/lattice-db/lattice/internal/parser"
	"github.com/lattice-db/lattice/internal/pgwire"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/util"
)

var version = "dev"

const envPrefix = "LATTICE"

type options struct {
	Root    string `long:"root" description:"Storage root directory" value-name:"dir"`
	Query   string `short:"q" long:"query" description:"Execute one SQL string and exit" value-name:"sql"`
	Repl    bool   `long:"repl" description:"Start an interactive prompt"`
	Serve   bool   `long:"serve" description:"Start the HTTP and pgwire frontends"`
	Config  string `long:"config" description:"Optional YAML config file" value-name:"path"`
	Debug   bool   `long:"debug" description:"Pretty-print raw results"`
	Help    bool   `long:"help" description:"Show this help"`
	Version bool   `long:"version" description:"Show this version"`
}

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.None)
	p.Usage = "[option...]"
	args, err := p.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.Help {
		p.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n\n", args)
		p.WriteHelp(os.Stdout)
		os.Exit(2)
	}

	logger := util.InitLogging(envPrefix)
	cfg, err := config.Load(envPrefix, opts.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	root := cfg.DBFolder
	if opts.Root != "" {
		root = opts.Root
	}

	switch {
	case opts.Serve:
		os.Exit(serve(cfg, root, logger))
	case opts.Query != "":
		os.Exit(runLocal(root, opts.Query, opts.Debug))
	case opts.Repl:
		os.Exit(repl(root, opts.Debug))
	default:
		sql, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if strings.TrimSpace(string(sql)) == "" {
			p.WriteHelp(os.Stdout)
			os.Exit(2)
		}
		os.Exit(runLocal(root, string(sql), opts.Debug))
	}
}

// localSession builds an unauthenticated local execution context: no RBAC
// registry, an admin-role session. This is the CLI's embedded mode, the
// server path wires real auth.
func localSession(root string) (*engine.Engine, *session.Session) {
	eng := engine.New(root, nil, nil)
	reg := session.NewRegistry(24 * time.Hour)
	return eng, reg.Create("local", []string{rbac.AdminRole})
}

func runLocal(root, sql string, debug bool) int {
	eng, sess := localSession(root)
	cmds, err := parser.Parse(sql)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, cmd := range cmds {
		res, err := eng.Execute(sess, cmd, time.Time{})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		printResult(res, debug)
	}
	return 0
}

func printResult(res *engine.Result, debug bool) {
	if debug {
		pp.Println(res)
		return
	}
	if len(res.Columns) == 0 {
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		return
	}
	fmt.Println(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = v.String()
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	fmt.Printf("(%d rows, %d ms)\n", len(res.Rows), res.ElapsedMs)
}

// serve runs the HTTP and (optionally) pgwire frontends until SIGINT/SIGTERM.
func serve(cfg config.Config, root string, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rbacReg := rbac.NewRegistry()
	bootstrapAdmin(rbacReg)
	sessions := session.NewRegistry(24 * time.Hour)
	eng := engine.New(root, rbacReg, logger)

	api := httpapi.NewServer(eng, sessions, rbacReg, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: api.Router(),
	}
	go func() {
		logger.Info("http frontend listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http frontend failed", "err", err)
			stop()
		}
	}()

	var pgLn net.Listener
	if cfg.PGWire {
		var err error
		pgLn, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.PGPort))
		if err != nil {
			logger.Error("pgwire listen failed", "err", err)
			return 1
		}
		pg := pgwire.NewServer(eng, sessions, rbacReg, logger)
		go func() {
			logger.Info("pgwire frontend listening", "port", cfg.PGPort)
			if err := pg.Serve(pgLn); err != nil && ctx.Err() == nil {
				logger.Error("pgwire frontend failed", "err", err)
				stop()
			}
		}()
	}

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	for {
		select {
		case <-sweep.C:
			sessions.Sweep()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
			if pgLn != nil {
				pgLn.Close()
			}
			return 0
		}
	}
}

// bootstrapAdmin seeds the admin login from <PREFIX>_ADMIN_PASSWORD, or an
// unauthenticated admin when unset (local development).
func bootstrapAdmin(reg *rbac.Registry) {
	u := &rbac.User{Name: "admin", Roles: []string{rbac.AdminRole}}
	if pw := os.Getenv(envPrefix + "_ADMIN_PASSWORD"); pw != "" {
		salt := make([]byte, 16)
		_, _ = rand.Read(salt)
		u.PasswordHash = rbac.HashPassword(pw, salt)
	}
	reg.PutUser(u)
}

// helpText lists the REPL's own commands; plain SQL is sent to the engine.
const helpText = `commands:
  connect <url> <user> [password]   query a remote server instead of --root
  use database <name>               set the current database
  use schema <name>                 set the current schema
  help                              show this help
  quit                              exit`

func repl(root string, debug bool) int {
	eng, sess := localSession(root)
	var remote *remoteClient

	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("lattice> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "quit" || line == "exit":
			return 0
		case line == "help":
			fmt.Println(helpText)
		case strings.HasPrefix(line, "connect "):
			c, err := connectRemote(strings.Fields(line)[1:])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			} else {
				remote = c
				fmt.Println("connected")
			}
		case strings.HasPrefix(line, "use "):
			if err := replUse(line, remote, eng, sess); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		default:
			if remote != nil {
				out, err := remote.query(line)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
				} else {
					fmt.Println(out)
				}
			} else {
				cmds, err := parser.Parse(line)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					fmt.Print("lattice> ")
					continue
				}
				for _, cmd := range cmds {
					res, err := eng.Execute(sess, cmd, time.Time{})
					if err != nil {
						fmt.Fprintln(os.Stderr, err)
						break
					}
					printResult(res, debug)
				}
			}
		}
		fmt.Print("lattice> ")
	}
	return 0
}

func replUse(line string, remote *remoteClient, eng *engine.Engine, sess *session.Session) error {
	fields := strings.Fields(line)
	if len(fields) != 3 || (fields[1] != "database" && fields[1] != "schema") {
		return fmt.Errorf("usage: use database|schema <name>")
	}
	if remote != nil {
		return remote.use(fields[1], fields[2])
	}
	cmds, err := parser.Parse(line)
	if err != nil {
		return err
	}
	_, err = eng.Execute(sess, cmds[0], time.Time{})
	return err
}

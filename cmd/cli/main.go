// Command wschat is a CLI client for the chat server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"nhooyr.io/websocket"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "wschat")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wschat")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (login required)")
	}
	return tf, nil
}

func removeToken() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `wschat CLI
Usage:
  wschat -server URL <cmd> [args]

Commands:
  version
  register   -u <username> -p <password>             (saves token)
  login      -u <username> -p <password>             (saves token)
  whoami
  users      [-search <text or id>]
  user       -id <id>
  history    -with <id> [-limit n]
  send       -to <id> (-text <message> | -file <path|->)
  listen                                            (prints pushed messages)
  logout
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API and the live endpoint.
func main() {
	// global flags
	server := flag.String("server", "http://localhost:8000", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, cmd, args); err != nil {
		fatal(err)
	}
}

func authed(server string) (*apiClient, tokenFile, error) {
	tf, err := loadToken()
	if err != nil {
		return nil, tokenFile{}, err
	}
	return newAPIClient(server, tf.AccessToken), tf, nil
}

func run(ctx context.Context, server, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Printf("wschat %s (%s)\n", version, buildDate)
		return nil

	case "register", "login":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("u", "", "username")
		pass := fs.String("p", "", "password")
		_ = fs.Parse(args)
		if *user == "" || *pass == "" {
			return errors.New("-u and -p are required")
		}
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		u, tok, err := newAPIClient(server, "").authenticate(rctx, "/"+cmd, *user, *pass)
		if err != nil {
			return err
		}
		exp, err := tokenExpiry(tok)
		if err != nil {
			return fmt.Errorf("unreadable session token: %w", err)
		}
		if err := saveToken(tokenFile{AccessToken: tok, ExpiresAt: exp, UserID: u.ID, Username: u.Username}); err != nil {
			return err
		}
		fmt.Printf("signed in as %s (id %d)\n", u.Username, u.ID)
		return nil

	case "whoami":
		c, _, err := authed(server)
		if err != nil {
			return err
		}
		u, err := c.whoami(ctx)
		if err != nil {
			return err
		}
		printJSON(u)
		return nil

	case "users":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		search := fs.String("search", "", "username substring or numeric id")
		_ = fs.Parse(args)
		c, _, err := authed(server)
		if err != nil {
			return err
		}
		ps, err := c.users(ctx, *search)
		if err != nil {
			return err
		}
		printJSON(ps)
		return nil

	case "user":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.Int64("id", 0, "user id")
		_ = fs.Parse(args)
		c, _, err := authed(server)
		if err != nil {
			return err
		}
		p, err := c.user(ctx, *id)
		if err != nil {
			return err
		}
		printJSON(p)
		return nil

	case "history":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		with := fs.Int64("with", 0, "other user id")
		limit := fs.Int("limit", 0, "max messages (server default when 0)")
		_ = fs.Parse(args)
		if *with <= 0 {
			return errors.New("-with is required")
		}
		c, _, err := authed(server)
		if err != nil {
			return err
		}
		conv, err := c.history(ctx, *with, *limit)
		if err != nil {
			return err
		}
		printJSON(conv)
		return nil

	case "send":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		to := fs.Int64("to", 0, "receiver id")
		text := fs.String("text", "", "message text")
		file := fs.String("file", "", "read message from file or - for stdin")
		_ = fs.Parse(args)
		if *to <= 0 {
			return errors.New("-to is required")
		}
		msg := *text
		if *file != "" {
			b, err := readAll(*file)
			if err != nil {
				return err
			}
			msg = strings.TrimRight(string(b), "\n")
		}
		_, tf, err := authed(server)
		if err != nil {
			return err
		}
		return sendOnce(ctx, server, tf.AccessToken, *to, msg)

	case "listen":
		_, tf, err := authed(server)
		if err != nil {
			return err
		}
		conn, err := dialLive(ctx, server, tf.AccessToken)
		if err != nil {
			return err
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		fmt.Fprintf(os.Stderr, "listening as %s (id %d), Ctrl-C to stop\n", tf.Username, tf.UserID)
		return listen(ctx, conn, os.Stdout)

	case "logout":
		c, _, err := authed(server)
		if err != nil {
			return err
		}
		if err := c.logout(ctx); err != nil {
			return err
		}
		return removeToken()

	default:
		usage()
		return nil
	}
}

// sendOnce opens a live channel, sends one message and closes it.
func sendOnce(ctx context.Context, server, token string, to int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	conn, err := dialLive(ctx, server, token)
	if err != nil {
		return err
	}
	if err := sendMessage(ctx, conn, to, text); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return err
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

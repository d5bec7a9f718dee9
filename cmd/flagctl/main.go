package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/flagstore/internal/config"
	"github.com/jwebster45206/flagstore/internal/logger"
	"github.com/jwebster45206/flagstore/internal/storage"
	"github.com/jwebster45206/flagstore/pkg/flags"
)

const usage = `Usage: flagctl <player-uuid> <command> [args]

Commands:
  has <name>           check whether a flag is present
  get <name>           print a flag's value
  set <name> <value>   create or update a flag (value parsed as JSON, else string)
  remove <name>        remove a flag
  list                 print every flag on the player
  clear                remove every flag on the player
  watch <name>         stream added/removed events until interrupted
`

func main() {
	if len(os.Args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	playerID, err := uuid.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid player UUID %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	command := os.Args[2]
	args := os.Args[3:]

	cfg := config.Load()
	log := logger.Setup(cfg)

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	store := storage.NewRedisStore(client, playerID, log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store", "error", err)
		}
		if err := client.Close(); err != nil {
			log.Error("Failed to close redis client", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not connect to Redis at %s: %v\n", cfg.RedisURL, err)
		os.Exit(1)
	}

	reg := flags.NewRegistry(flags.Config{Prefix: cfg.FlagPrefix}, log)

	if err := run(ctx, reg, store, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, reg *flags.Registry, store *storage.RedisStore, command string, args []string) error {
	switch command {
	case "has":
		if len(args) != 1 {
			return fmt.Errorf("usage: has <name>")
		}
		has, err := reg.Has(ctx, store, args[0])
		if err != nil {
			return err
		}
		fmt.Println(has)
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <name>")
		}
		v, ok, err := reg.Value(ctx, store, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("flag %q is not set", args[0])
		}
		fmt.Println(render(v))
		return nil

	case "set":
		if len(args) != 2 {
			return fmt.Errorf("usage: set <name> <value>")
		}
		h, err := reg.Handle(store, args[0])
		if err != nil {
			return err
		}
		if err := h.SetValue(ctx, parseValue(args[1])); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", h.Name(), render(h.Value()))
		return nil

	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove <name>")
		}
		h, err := reg.Handle(store, args[0])
		if err != nil {
			return err
		}
		return h.Remove(ctx)

	case "list":
		all, err := reg.All(ctx, store)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s = %s\n", name, render(all[name].Value()))
		}
		return nil

	case "clear":
		return reg.Clear(ctx, store)

	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: watch <name>")
		}
		return watch(reg, store, args[0])

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func watch(reg *flags.Registry, store *storage.RedisStore, name string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	added, err := reg.OnAdded(ctx, store, name, func(h *flags.Handle) {
		fmt.Printf("%s added: %s = %s\n", time.Now().Format(time.TimeOnly), h.Name(), render(h.Value()))
	})
	if err != nil {
		return err
	}
	defer added.Disconnect()

	removed, err := reg.OnRemoved(ctx, store, name, func() {
		fmt.Printf("%s removed: %s\n", time.Now().Format(time.TimeOnly), name)
	})
	if err != nil {
		return err
	}
	defer removed.Disconnect()

	fmt.Printf("Watching flag %q (ctrl-c to stop)\n", name)
	<-ctx.Done()
	return nil
}

// parseValue interprets a CLI argument: valid JSON becomes the decoded
// value (bool, number, structured), anything else stays a string.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

func render(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

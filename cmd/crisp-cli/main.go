package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xhit/go-str2duration/v2"

	"github.com/four43/crisp-cache/cache"
)

var rootCmd = &cobra.Command{
	Use:   "crisp",
	Short: "Inspect and manipulate a crisp-cache Redis backend",
}

func flagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

func newBackend(cmd *cobra.Command) (cache.Backend, func(), error) {
	redisURL := flagOrEnv(cmd, "redis", "CRISP_REDIS_URL", "redis://localhost:6379")
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url %q: %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	prefix, _ := cmd.Flags().GetString("prefix")
	backend := cache.NewRedis(cmd.Context(), client, prefix)
	return backend, func() {
		backend.Close()
		client.Close()
	}, nil
}

func parseTTLFlag(cmd *cobra.Command, name string) (time.Duration, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" || raw == "never" {
		return cache.Never, nil
	}
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return d, nil
}

func describe(entry *cache.Entry, now time.Time) string {
	age := now.Sub(entry.Created).Truncate(time.Millisecond)
	return fmt.Sprintf("state=%s age=%s stale=%s expires=%s size=%d",
		entry.State(now), age, ttlString(entry.Stale), ttlString(entry.Expires), entry.Size)
}

func ttlString(d time.Duration) string {
	if d < 0 {
		return "never"
	}
	return d.String()
}

func decodeValue(entry *cache.Entry) (string, error) {
	data, ok := entry.Value.([]byte)
	if !ok {
		return fmt.Sprintf("%v", entry.Value), nil
	}
	var s string
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("decoding value: %w", err)
	}
	return s, nil
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a key and print its value and freshness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, cleanup, err := newBackend(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		entry, err := backend.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("key %q not found", args[0])
		}
		value, err := decodeValue(entry)
		if err != nil {
			return err
		}
		fmt.Println(value)
		fmt.Fprintln(os.Stderr, describe(entry, time.Now()))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, err := parseTTLFlag(cmd, "stale")
		if err != nil {
			return err
		}
		expires, err := parseTTLFlag(cmd, "expires")
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt64("size")
		backend, cleanup, err := newBackend(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		entry := cache.NewEntry(args[1], time.Now(), stale, expires, size)
		if err := backend.Set(cmd.Context(), args[0], entry); err != nil {
			return err
		}
		fmt.Printf("OK %s\n", describe(entry, time.Now()))
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, cleanup, err := newBackend(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := backend.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached key in the namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, cleanup, err := newBackend(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := backend.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List cached keys with their freshness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, cleanup, err := newBackend(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		now := time.Now()
		cursor := ""
		for {
			key, entry, next, err := backend.Next(cmd.Context(), cursor)
			if err != nil {
				return err
			}
			if entry == nil {
				return nil
			}
			fmt.Printf("%s\t%s\n", key, describe(entry, now))
			cursor = next
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("redis", "", "redis url (or CRISP_REDIS_URL, default redis://localhost:6379)")
	rootCmd.PersistentFlags().String("prefix", "", "key namespace prefix")
	setCmd.Flags().String("stale", "", "stale TTL (e.g. 5m, 1d12h; empty or \"never\" disables)")
	setCmd.Flags().String("expires", "", "expires TTL (e.g. 10m, 2w; empty or \"never\" disables)")
	setCmd.Flags().Int64("size", 0, "entry size in cache units")
	rootCmd.AddCommand(getCmd, setCmd, delCmd, clearCmd, keysCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"callcore/internal/core/domain"
	"callcore/pkg/auth"
	"callcore/pkg/client"
	"callcore/pkg/utils"
)

const usage = `usage: callctl [flags] <command> [args]

commands:
  state                      print the current call
  call <recipient> [video]   start a call
  accept [video]             answer the ringing call
  deny                       reject the ringing call
  hangup                     end the call
  mic|video|speaker on|off   toggle local media
  flip                       switch camera
  log [recipient] [limit]    list the call log
  trust <recipient> <key>    accept a changed identity key (base64)
  token <recipient> <device> mint a control token from CALLCORE_JWT_SECRET
`

func main() {
	addr := flag.String("addr", envOr("CALLCORE_CONTROL_URL", "http://localhost:8080"), "control API base URL")
	token := flag.String("token", os.Getenv("CALLCORE_TOKEN"), "bearer token")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*addr)
	c.SetToken(*token)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, c, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "state":
		vm, err := c.State(ctx)
		if err != nil {
			return err
		}
		if !vm.CallConnectedTime.IsZero() {
			fmt.Fprintf(os.Stderr, "connected for %s\n", utils.FormatCallDuration(time.Since(vm.CallConnectedTime)))
		}
		return printJSON(vm)
	case "call":
		if len(rest) == 0 {
			return fmt.Errorf("call needs a recipient")
		}
		return c.Call(ctx, domain.RecipientID(rest[0]), len(rest) > 1 && rest[1] == "video")
	case "accept":
		return c.Accept(ctx, len(rest) > 0 && rest[0] == "video")
	case "deny":
		return c.Deny(ctx)
	case "hangup":
		return c.Hangup(ctx)
	case "mic", "video", "speaker":
		if len(rest) == 0 || (rest[0] != "on" && rest[0] != "off") {
			return fmt.Errorf("%s needs on or off", cmd)
		}
		on := rest[0] == "on"
		switch cmd {
		case "mic":
			return c.SetMicrophone(ctx, on)
		case "video":
			return c.SetVideo(ctx, on)
		default:
			return c.SetSpeaker(ctx, on)
		}
	case "flip":
		return c.FlipCamera(ctx)
	case "log":
		var (
			recipient domain.RecipientID
			limit     int
		)
		if len(rest) > 0 {
			recipient = domain.RecipientID(rest[0])
		}
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("invalid limit %q", rest[1])
			}
			limit = n
		}
		entries, err := c.CallLog(ctx, recipient, limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRECIPIENT\tDIRECTION\tTYPE\tVIDEO")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
				e.Timestamp.Local().Format(time.DateTime), utils.Truncate(string(e.Recipient), 24), e.Direction, e.Type, e.Video)
		}
		return w.Flush()
	case "trust":
		if len(rest) != 2 {
			return fmt.Errorf("trust needs a recipient and a key")
		}
		key, err := base64.StdEncoding.DecodeString(rest[1])
		if err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}
		return c.TrustIdentity(ctx, domain.RecipientID(rest[0]), key)
	case "token":
		if len(rest) != 2 {
			return fmt.Errorf("token needs a recipient and a device id")
		}
		device, err := strconv.ParseUint(rest[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid device id %q", rest[1])
		}
		secret := os.Getenv("CALLCORE_JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("CALLCORE_JWT_SECRET is not set")
		}
		t, err := auth.NewTokenIssuer(secret, 24*time.Hour).Issue(rest[0], uint32(device))
		if err != nil {
			return err
		}
		fmt.Println(t)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

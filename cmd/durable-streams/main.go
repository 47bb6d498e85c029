// Command durable-streams is a small CLI for the protocol: create, write,
// read, and delete a stream from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/durable-streams/durable-streams/durablestreamsclient"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	globals := flag.NewFlagSet("durable-streams", flag.ContinueOnError)
	url := globals.String("url", "http://localhost:4437", "base URL of the durable streams server")
	auth := globals.String("auth", "", "Authorization header value, e.g. 'Bearer <token>'")
	globals.SetOutput(io.Discard)

	if err := globals.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	args = globals.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: durable-streams [--url URL] [--auth 'SCHEME VALUE'] <create|write|read|delete> <stream_id> [args...]")
		return 2
	}

	cmd := args[0]
	rest := args[1:]

	// Globals may appear before or after the subcommand; they are parsed
	// once before it and again after it is peeled off, so either placement works.
	if err := globals.Parse(rest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	rest = globals.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "missing stream_id")
		return 2
	}
	streamID := rest[0]
	rest = rest[1:]

	client := durablestreamsclient.NewClient(*url)
	if *auth != "" {
		client.SetAuthorization(*auth)
	}
	stream := client.Stream(streamID)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch cmd {
	case "create":
		return runCreate(ctx, stream, rest)
	case "write":
		return runWrite(ctx, stream, rest)
	case "read":
		return runRead(ctx, stream, rest)
	case "delete":
		return runDelete(ctx, stream)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		return 2
	}
}

func runCreate(ctx context.Context, stream *durablestreamsclient.Stream, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	contentType := fs.String("content-type", "application/octet-stream", "stream content type")
	ttl := fs.Duration("ttl", 0, "stream TTL, e.g. 24h")
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	_, err := stream.Create(ctx, durablestreamsclient.CreateOptions{
		ContentType: *contentType,
		TTL:         *ttl,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runWrite(ctx context.Context, stream *durablestreamsclient.Stream, args []string) int {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	contentType := fs.String("content-type", "", "content type for this append")
	jsonMode := fs.Bool("json", false, "send payload as a single JSON value (sets Content-Type: application/json)")
	batchJSON := fs.Bool("batch-json", false, "treat the payload as a top-level JSON array and split it into one append per element")
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	payload := strings.Join(fs.Args(), " ")
	if payload == "" {
		fmt.Fprintln(os.Stderr, "write requires a payload")
		return 2
	}

	ct := *contentType
	if *jsonMode || *batchJSON {
		ct = "application/json"
	}

	// batch-json and json both forward the body as-is: the server itself
	// unwraps a top-level JSON array into one message per element.
	result, err := stream.Append(ctx, ct, []byte(payload), durablestreamsclient.AppendOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(result.NextOffset)
	return 0
}

func runRead(ctx context.Context, stream *durablestreamsclient.Stream, args []string) int {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	live := fs.String("live", "", "long-poll|sse, stream live updates instead of exiting once caught up")
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	liveMode := durablestreamsclient.LiveModeNone
	switch *live {
	case "long-poll":
		liveMode = durablestreamsclient.LiveModeLongPoll
	case "sse":
		liveMode = durablestreamsclient.LiveModeSSE
	case "":
	default:
		fmt.Fprintf(os.Stderr, "unknown --live value: %s\n", *live)
		return 2
	}

	it := stream.Read(ctx, durablestreamsclient.ReadOptions{
		Offset: durablestreamsclient.StartOffset,
		Live:   liveMode,
	})
	defer it.Close()

	for {
		chunk, err := it.Next()
		if err != nil {
			if err == durablestreamsclient.Done {
				return 0
			}
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if len(chunk.Data) > 0 {
			os.Stdout.Write(chunk.Data)
		}
		if chunk.UpToDate && liveMode == durablestreamsclient.LiveModeNone {
			return 0
		}
	}
}

func runDelete(ctx context.Context, stream *durablestreamsclient.Stream) int {
	if err := stream.Delete(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/graphgate/graphgate/internal/discovery"
	"github.com/graphgate/graphgate/internal/eventbus"
	"github.com/graphgate/graphgate/internal/gateway"
	"github.com/graphgate/graphgate/internal/otel"
	"github.com/graphgate/graphgate/internal/schema"
	"github.com/graphgate/graphgate/internal/server"
	"github.com/graphgate/graphgate/internal/transport"
)

const rootUsage = `graphgate — federated GraphQL gateway

USAGE:
  graphgate <command> [flags]

COMMANDS:
  serve            Run the gateway in front of the configured subgraphs
  compose-sdl      Compose subgraph SDL files into one schema and print it
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -service.backend <name=addr[,opt...]>  Register a subgraph. Repeatable. Options:
                                           query=<path> subscribe=<path>
                                           introspection=<path> tls
  -service.file <file>                   Read the service list from a JSON file
                                         instead of -service.backend
  -schema.file <file>                    Serve a pre-composed SDL instead of
                                         introspecting the subgraphs
  -gateway.update-interval <duration>    Schema refresh interval (default: 30s)
  -server.addr <addr>                    HTTP listen address (default: :8080)
  -server.pretty                         Pretty-print JSON responses
  -server.timeout <duration>             Per-request timeout (default: 30s)
  -server.forward-header <name>          Forward client header to subgraphs. Repeatable
  -server.receive-header <name>          Pass subgraph response header to clients. Repeatable
  -transport.request-timeout <duration>  Subgraph call timeout (default: 30s)
  -otel.endpoint <addr>                  OTLP collector endpoint
  -otel.service <name>                   OpenTelemetry service name (default: graphgate)
`

const composeSDLUsage = `compose-sdl FLAGS:
  -service <name=file>  Subgraph SDL file. Repeatable; at least one required
  -out <file>           Write composed SDL to file (default: stdout)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "compose-sdl":
		return cmdComposeSDL(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "compose-sdl":
		fmt.Print(composeSDLUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseBackend parses "name=addr[,query=/p][,subscribe=/p][,introspection=/p][,tls]".
func parseBackend(v string) (discovery.Service, error) {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return discovery.Service{}, fmt.Errorf("invalid backend %q", v)
	}
	fields := strings.Split(parts[1], ",")
	svc := discovery.Service{Name: strings.TrimSpace(parts[0]), Addr: strings.TrimSpace(fields[0])}
	for _, field := range fields[1:] {
		switch {
		case field == "tls":
			svc.TLS = true
		case strings.HasPrefix(field, "query="):
			svc.QueryPath = strings.TrimPrefix(field, "query=")
		case strings.HasPrefix(field, "subscribe="):
			svc.SubscribePath = strings.TrimPrefix(field, "subscribe=")
		case strings.HasPrefix(field, "introspection="):
			svc.IntrospectionPath = strings.TrimPrefix(field, "introspection=")
		default:
			return discovery.Service{}, fmt.Errorf("invalid backend option %q in %q", field, v)
		}
	}
	return svc, nil
}

func cmdServe(args []string) error {
	addr := ":8080"
	pretty := false
	timeout := 30 * time.Second
	requestTimeout := 30 * time.Second
	updateInterval := 30 * time.Second
	serviceFile := ""
	schemaFile := ""
	otelEndpoint := ""
	otelService := "graphgate"
	var backends, forwardHeaders, receiveHeaders stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&backends, "service.backend", "Register a subgraph")
	fs.StringVar(&serviceFile, "service.file", serviceFile, "Service list JSON file")
	fs.StringVar(&schemaFile, "schema.file", schemaFile, "Pre-composed SDL file")
	fs.DurationVar(&updateInterval, "gateway.update-interval", updateInterval, "Schema refresh interval")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Var(&forwardHeaders, "server.forward-header", "Forward client header to subgraphs")
	fs.Var(&receiveHeaders, "server.receive-header", "Pass subgraph response header to clients")
	fs.DurationVar(&requestTimeout, "transport.request-timeout", requestTimeout, "Subgraph call timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	var source discovery.Source
	switch {
	case serviceFile != "":
		source = discovery.NewFile(serviceFile)
	case len(backends) > 0:
		var list discovery.ServiceList
		for _, backend := range backends {
			svc, err := parseBackend(backend)
			if err != nil {
				fmt.Fprint(os.Stderr, serveUsage)
				return err
			}
			list = append(list, svc)
		}
		source = discovery.NewStatic(list)
	default:
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("at least one -service.backend or -service.file is required")
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	gwOpts := []gateway.Option{
		gateway.WithUpdateInterval(updateInterval),
		gateway.WithTransportOptions(transport.WithRequestTimeout(requestTimeout)),
	}
	if schemaFile != "" {
		raw, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("read schema file: %w", err)
		}
		composed, err := schema.Parse(string(raw))
		if err != nil {
			return fmt.Errorf("parse schema file: %w", err)
		}
		gwOpts = append(gwOpts, gateway.WithStaticSchema(composed))
	}

	gw := gateway.New(source, gwOpts...)
	go gw.UpdateLoop(context.Background())

	sopts := []server.Option{server.WithTimeout(timeout)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(forwardHeaders) > 0 {
		sopts = append(sopts, server.WithForwardHeaders(forwardHeaders...))
	}
	if len(receiveHeaders) > 0 {
		sopts = append(sopts, server.WithReceiveHeaders(receiveHeaders...))
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(gw, sopts...))

	log.Printf("GraphGate listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func cmdComposeSDL(args []string) error {
	outFile := ""
	var services stringListFlag

	fs := flag.NewFlagSet("compose-sdl", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&services, "service", "Subgraph SDL file as name=file")
	fs.StringVar(&outFile, "out", outFile, "Write composed SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, composeSDLUsage)
		return err
	}
	if len(services) == 0 {
		fmt.Fprint(os.Stderr, composeSDLUsage)
		return fmt.Errorf("at least one -service is required")
	}

	var sdls []schema.ServiceSDL
	for _, svc := range services {
		parts := strings.SplitN(svc, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid service %q", svc)
		}
		raw, err := os.ReadFile(parts[1])
		if err != nil {
			return fmt.Errorf("read %q: %w", parts[1], err)
		}
		sdls = append(sdls, schema.ServiceSDL{Name: parts[0], SDL: string(raw)})
	}

	composed, err := schema.Compose(sdls)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	sdl := schema.Render(composed)
	if outFile == "" {
		fmt.Print(sdl)
		return nil
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}

// Command tubeinfer runs the engine once over a TfL arrivals file and
// prints the results as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/inference"
	"github.com/tubetrace-engine/internal/topology"
	"github.com/tubetrace-engine/pkg/tube/models"
)

func main() {
	_ = godotenv.Load()

	var (
		input        = flag.String("in", "-", "TfL arrivals JSON file, or - for stdin")
		topologyFile = flag.String("topology", os.Getenv("TOPOLOGY_FILE"), "topology YAML file (default: embedded network)")
		line         = flag.String("line", "", "only infer this line")
		format       = flag.String("format", "tfl", "input format: tfl or arrivals")
		pretty       = flag.Bool("pretty", false, "indent output")
		parallelism  = flag.Int("parallelism", 4, "lines inferred concurrently")
		level        = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger.InitLogger(logger.LoggerConfig{Level: logger.ParseLogLevel(*level)})
	log := logger.New(os.Stderr)

	if err := run(*input, *topologyFile, *line, *format, *pretty, *parallelism, os.Stdout); err != nil {
		log.Fatal("tubeinfer failed", "error", err)
	}
}

func run(input, topologyFile, line, format string, pretty bool, parallelism int, out io.Writer) error {
	var (
		store *topology.Store
		err   error
	)
	if topologyFile != "" {
		store, err = topology.LoadFile(topologyFile)
	} else {
		store, err = topology.Default()
	}
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	arrivals, err := readArrivals(input, format)
	if err != nil {
		return err
	}

	engine := inference.New(store)
	var batches []inference.LineBatch
	if line != "" {
		batches = []inference.LineBatch{engine.InferBatch(strings.ToLower(line), arrivals)}
	} else {
		batches, err = engine.InferLines(context.Background(), arrivals, parallelism)
		if err != nil {
			return fmt.Errorf("inferring: %w", err)
		}
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(batches)
}

func readArrivals(input, format string) ([]models.Arrival, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}

	switch strings.ToLower(format) {
	case "tfl":
		return models.DecodeTfLArrivals(r)
	case "arrivals":
		var arrivals []models.Arrival
		if err := json.NewDecoder(r).Decode(&arrivals); err != nil {
			return nil, fmt.Errorf("decoding arrivals: %w", err)
		}
		return arrivals, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

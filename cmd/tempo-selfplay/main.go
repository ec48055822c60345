// Command tempo-selfplay runs the self-play/train loop from a TOML config
// and can render the newest finished game as an animated GIF.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/temposearch/tempo"
	tempogif "github.com/temposearch/tempo/encoding/gif"
	"github.com/temposearch/tempo/nn"

	_ "net/http/pprof"
)

func main() {
	configPath := flag.String("config", "", "TOML config file (defaults apply when empty)")
	statsPath := flag.String("stats", "", "write per-iteration statistics CSV here")
	gifPath := flag.String("gif", "", "render the newest finished game to this GIF")
	pprofAddr := flag.String("pprof", "", "serve pprof on this address, e.g. localhost:6060")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	config := tempo.DefaultConfig()
	if *configPath != "" {
		var err error
		if config, err = tempo.LoadConfig(*configPath); err != nil {
			logger.Fatal().Err(err).Msg("bad config")
		}
	}

	if *pprofAddr != "" {
		go func() {
			logger.Info().Str("addr", *pprofAddr).Msg("pprof listening")
			_ = http.ListenAndServe(*pprofAddr, nil)
		}()
	}

	if dir := config.Storage.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("creating storage dir")
		}
	}

	engine := tempo.New(config, nn.NewUniform(), logger)
	defer engine.ShutDown()

	if err := engine.Learn(nn.NetworkTeacher); err != nil {
		logger.Fatal().Err(err).Msg("learn failed")
	}

	if *statsPath != "" {
		if err := engine.Dump(*statsPath); err != nil {
			logger.Error().Err(err).Msg("writing statistics")
		}
	}

	if *gifPath != "" {
		if err := renderNewestGame(engine, *gifPath); err != nil {
			logger.Error().Err(err).Msg("rendering gif")
		}
	}
}

func renderNewestGame(engine *tempo.Engine, path string) error {
	games := engine.Storage().RecentGames(1)
	if len(games) == 0 {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := tempogif.NewEncoder(1080, 1920, f)
	if err := enc.EncodeGame(engine.Storage().GamesSeen(), games[0]); err != nil {
		return err
	}
	return enc.Flush()
}

package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"

	"github.com/cbegin/chipdispatch-go"
	"github.com/cbegin/chipdispatch-go/internal/config"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

func main() {
	var (
		configPath = flag.String("config", "chipdispatch.yaml", "settings file (missing file keeps defaults)")
		systemList = flag.String("systems", "", "comma separated systems, overrides the settings file: "+strings.Join(systemNames(), "|"))
		outPath    = flag.String("out", "", "render to this WAV file instead of playing")
		seconds    = flag.Float64("seconds", 0, "render length in seconds (0 = until the song ends)")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		statsAddr  = flag.String("statsview", "", "serve runtime stats on this address, e.g. localhost:18066")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logFile, err := config.ConfigureLogger(settings.LogLevel, settings.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	systems, err := resolveSystems(settings, *systemList)
	if err != nil {
		log.Fatal(err)
	}
	song := chipdispatch.DemoSong(systems...)

	if *statsAddr != "" {
		go func() {
			viewer.SetConfiguration(viewer.WithAddr(*statsAddr))
			statsview.New().Start()
		}()
		fmt.Printf("stats server available at http://%s/debug/statsview\n", *statsAddr)
	}

	opts := []chipdispatch.PlayerOption{
		chipdispatch.WithTickRate(settings.TickRate),
		chipdispatch.WithBlockSize(settings.BlockSize),
		chipdispatch.WithLowQuality(settings.LowQuality),
		chipdispatch.WithInt16Output(settings.Format == "s16"),
		chipdispatch.WithBufferSize(time.Duration(settings.BufferMS) * time.Millisecond),
	}

	if *outPath != "" {
		if err := render(*outPath, song, settings, *seconds, opts); err != nil {
			log.Fatal(err)
		}
		return
	}

	pl, err := chipdispatch.NewPlayer(settings.SampleRate, opts...)
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)
	if err := pl.Play(song); err != nil {
		log.Fatal(err)
	}
	slog.Info("playing", "song", song.Name, "systems", len(systems), "ticks", song.Ticks())
	if *seconds > 0 {
		time.AfterFunc(time.Duration(*seconds*float64(time.Second)), func() { _ = pl.Stop() })
	}
	pl.Wait()
	fmt.Println("playback completed")
}

func render(path string, song *chipdispatch.Song, s *config.Settings, seconds float64, opts []chipdispatch.PlayerOption) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := chipdispatch.RenderWAV(f, song, s.SampleRate, s.ExportRate, seconds, opts...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("rendered", "file", path, "elapsed", time.Since(start))
	return nil
}

// resolveSystems prefers the -systems flag over the settings file.
func resolveSystems(s *config.Settings, list string) ([]chipdispatch.System, error) {
	if strings.TrimSpace(list) == "" {
		return chipdispatch.SystemsFromSettings(s)
	}
	var out []chipdispatch.System
	for _, name := range strings.Split(list, ",") {
		id, err := platform.ParseSystem(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, fmt.Errorf("invalid -systems entry: %w", err)
		}
		out = append(out, chipdispatch.System{ID: id, Volume: 0.7})
	}
	return out, nil
}

func systemNames() []string {
	var names []string
	for _, id := range platform.Default.Systems() {
		names = append(names, id.String())
	}
	return names
}

// Command uacd lists, inspects and streams USB audio class devices.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/kevmo314/go-uac/internal/log"
)

func main() {
	yamlPaths, tomlPaths := configPaths(findUserConfig(os.Args[1:]))

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("uacd"),
		kong.Description("USB Audio Class 1.0/2.0 driver"),
		kong.UsageOnError(),
		// flags and environment override the configuration files
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	ctx.Bind(logger)
	err = ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("UAC_CONFIG")
}

// configPaths lists the configuration files to try, the user's first.
func configPaths(userPath string) (yamlPaths, tomlPaths []string) {
	switch filepath.Ext(userPath) {
	case "":
	case ".toml":
		tomlPaths = append(tomlPaths, userPath)
	default:
		yamlPaths = append(yamlPaths, userPath)
	}
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "uacd"))
	}
	for _, dir := range dirs {
		yamlPaths = append(yamlPaths, filepath.Join(dir, "uacd.yaml"), filepath.Join(dir, "uacd.yml"))
		tomlPaths = append(tomlPaths, filepath.Join(dir, "uacd.toml"))
	}
	return yamlPaths, tomlPaths
}

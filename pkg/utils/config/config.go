package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	log "github.com/junbin-yang/nearshare-go/pkg/utils/logger"
	"gopkg.in/yaml.v2"
)

var (
	APPNAME    string = "nearshare-receiverd"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

// Config is the on-disk YAML shape for the Near Share receiver daemon.
type Config struct {
	DeviceType string
	DeviceName string
	UUID       string
	Interface  string
	Logger     struct {
		Dir    string
		Level  string
		Rotate bool
	}
	Receiver struct {
		ListenAddr string // "host:port" the transport acceptor binds
		StorageDir string // directory received files are written into
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stdout, APPNAME+", version: "+VERSION+" (built at "+BUILD_TIME+") "+GO_VERSION)
		flag.PrintDefaults()
	}
	flag.Parse()
}

// Parse loads <executable-dir>/<APPNAME>.yml, falling back to /etc/<APPNAME>.yml,
// and wires the logger rotation/level settings it carries.
func Parse() *Config {
	ex, e := os.Executable()
	if e != nil {
		panic(e)
	}

	cfile := filepath.Dir(ex) + "/" + APPNAME + ".yml"
	if _, err := os.Stat(cfile); os.IsNotExist(err) {
		cfile = "/etc/" + APPNAME + ".yml"
	}

	conf := new(Config)
	data, err := ioutil.ReadFile(cfile)
	if err != nil {
		panic(err)
	}
	yaml.Unmarshal(data, &conf)

	defer log.Sync()
	if conf.Logger.Rotate {
		if len(conf.Logger.Dir) == 0 {
			conf.Logger.Dir = filepath.Dir(ex)
		}
		out := log.NewProductionRotateByTime(conf.Logger.Dir + "/" + APPNAME + ".log")
		logger := log.New(out, log.InfoLevel)
		log.ReplaceDefault(logger)
	}
	switch conf.Logger.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	if conf.Receiver.StorageDir == "" {
		conf.Receiver.StorageDir = filepath.Dir(ex)
	}
	if conf.Receiver.ListenAddr == "" {
		conf.Receiver.ListenAddr = "0.0.0.0:0"
	}

	return conf
}

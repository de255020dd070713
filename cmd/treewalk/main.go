package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/kjk/treewalk/httplog"
	"github.com/kjk/treewalk/log"
	"github.com/kjk/treewalk/minioutil"
	"github.com/kjk/treewalk/server"
	"github.com/kjk/treewalk/treestore"
	"github.com/kjk/treewalk/u"
)

func getEnv(name string, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func getPort() int {
	v := os.Getenv("PORT")
	if v == "" {
		return 8000
	}
	port, err := strconv.Atoi(v)
	if err != nil || port < 1 || port > 65535 {
		log.Errorf("invalid PORT '%s'\n", v)
		os.Exit(1)
	}
	return port
}

// s3Client returns nil if S3 uploads are not configured
func s3Client() *minioutil.Client {
	config := &minioutil.Config{
		Endpoint: os.Getenv("TREEWALK_S3_ENDPOINT"),
		Access:   os.Getenv("TREEWALK_S3_ACCESS"),
		Secret:   os.Getenv("TREEWALK_S3_SECRET"),
		Bucket:   os.Getenv("TREEWALK_S3_BUCKET"),
	}
	unset := config.Endpoint == "" && config.Access == "" && config.Secret == "" && config.Bucket == ""
	if unset {
		return nil
	}
	mc, err := minioutil.New(config)
	if log.IfErrf(err, "s3 uploads disabled: %s\n", err) {
		return nil
	}
	log.Logf("uploading http logs to %s\n", mc.URLBase())
	return mc
}

func main() {
	port := getPort()
	dataDir := getEnv("TREEWALK_DATA_DIR", "data")
	staticDir := getEnv("TREEWALK_STATIC_DIR", "static")
	logDir := getEnv("TREEWALK_LOG_DIR", "logs")
	log.Verbose = os.Getenv("TREEWALK_VERBOSE") != ""

	log.Init(logDir)
	defer log.Close()

	store := &treestore.Store{DataDir: dataDir}
	err := treestore.OpenStore(store)
	if err != nil {
		log.Errorf("failed to open store in '%s': %s\n", dataDir, err)
		os.Exit(1)
	}
	log.Verbosef("observations file: %s\n", store.Path())

	if !u.DirExists(staticDir) {
		log.Logf("static dir '%s' doesn't exist, will serve 404s\n", staticDir)
	}

	var httpLog *httplog.Logger
	if logDir != "" {
		httpLog, err = httplog.New(filepath.Join(logDir, "httplog"), "treewalk", s3Client())
		log.IfErrf(err, "http request logging disabled: %s\n", err)
	}
	defer httpLog.Close()

	srv := server.New(store, server.Options{
		Port:      port,
		StaticDir: staticDir,
		HTTPLog:   httpLog,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)
	if err != nil {
		log.Errorf("server failed: %s\n", err)
		log.Close()
		os.Exit(1)
	}
}

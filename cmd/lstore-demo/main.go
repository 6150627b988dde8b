// Command lstore-demo exercises a database end to end: create a
// table, insert and update rows inside a transaction, then read them
// back. It mirrors the teacher's cmd entrypoint idiom (flag parsing,
// config load, logger init) scaled down to this engine's surface.
package main

import (
	"flag"
	"fmt"
	"os"

	lstore "github.com/araiyan/lstore"
	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/logger"
)

func main() {
	var (
		dataDir    string
		configPath string
		logLevel   string
	)
	flag.StringVar(&dataDir, "data-dir", "./lstore-data", "database directory")
	flag.StringVar(&configPath, "config", "", "optional lstore.ini path")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	if err := logger.InitLogger(logger.LogConfig{LogLevel: logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadINI(configPath)
		if err != nil {
			logger.Errorf("loading config %s: %v", configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	db, err := lstore.Open(dataDir, cfg)
	if err != nil {
		logger.Errorf("opening database at %s: %v", dataDir, err)
		os.Exit(1)
	}
	defer db.Close()

	q, ok := db.GetTable("grades")
	if !ok {
		q, err = db.CreateTable("grades", 5, 0)
		if err != nil {
			logger.Errorf("creating table: %v", err)
			os.Exit(1)
		}
	}

	tx := db.NewTransaction()
	tx.AddInsert("grades", q, []int32{1, 90, 85, 88, 92})
	tx.AddUpdate("grades", q, 1, []int32{0, 0, 0, 0, 95}, []bool{false, false, false, false, true})
	selIdx := tx.AddSelect("grades", q, 1, 0, []bool{true, true, true, true, true})

	if !tx.Run() {
		logger.Warn("demo transaction aborted")
		return
	}

	rows := tx.SelectResult(selIdx)
	for _, row := range rows {
		fmt.Printf("student %d: %v\n", row[0], row[1:])
	}
}

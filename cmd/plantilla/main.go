package main

import (
	"flag"
	"log"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"

	"github.com/crafthub/plantilla/blobs"
	"github.com/crafthub/plantilla/catalog"
	"github.com/crafthub/plantilla/server"
	"github.com/crafthub/plantilla/templates"
)

// config collects every server option. Each one can come from the TOML
// configuration file or from the matching command line flag, with the
// flag winning.
type config struct {
	Port      string
	Storage   string
	MySQL     string `toml:"mysql"`
	QlPath    string `toml:"ql_path"`
	AdminKey  string `toml:"admin_key"`
	SentryDSN string `toml:"sentry_dsn"`
}

func main() {
	var (
		configFile = flag.String("config", "", "path to a TOML configuration file")
		storage    = flag.String("storage", "", "blob storage location (a directory, file:path, or s3://host/bucket/prefix; empty means in-memory)")
		port       = flag.String("port", "", "port number to listen on")
		mysql      = flag.String("mysql", "", "MySQL dial string for the record database (empty means the embedded database)")
		qlpath     = flag.String("ql-path", "", "file for the embedded record database (empty means in-memory)")
		adminkey   = flag.String("admin-key", "", "shared key needed on the write routes")
	)
	flag.Parse()

	var c config
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &c); err != nil {
			log.Fatalln("Error reading configuration file:", err)
		}
	}
	// flags given on the command line win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "storage":
			c.Storage = *storage
		case "port":
			c.Port = *port
		case "mysql":
			c.MySQL = *mysql
		case "ql-path":
			c.QlPath = *qlpath
		case "admin-key":
			c.AdminKey = *adminkey
		}
	})
	if c.Port == "" {
		c.Port = "14000"
	}

	if c.SentryDSN != "" {
		raven.SetDSN(c.SentryDSN)
		raven.SetRelease(server.Version)
	}

	var records catalog.Store
	var err error
	if c.MySQL != "" {
		log.Printf("Using MySQL record database")
		records, err = catalog.NewMysqlStore(c.MySQL)
	} else {
		path := c.QlPath
		if path == "" {
			path = "memory"
		}
		log.Printf("Using embedded record database at %s", path)
		records, err = catalog.NewQlStore(path)
	}
	if err != nil {
		log.Fatalln("Error opening record database:", err)
	}

	log.Printf("Using blob storage %s", c.Storage)
	fs := parselocation(c.Storage)
	if fs == nil {
		log.Fatalln("Error parsing storage location:", c.Storage)
	}
	files := blobs.New(fs)
	log.Println("Scanning blob store")
	if err := files.Load(); err != nil {
		log.Fatalln("Error scanning blob store:", err)
	}

	s := &server.RESTServer{
		PortNumber: c.Port,
		AdminKey:   c.AdminKey,
		Templates: &templates.Manager{
			Records: records,
			Files:   files,
		},
	}
	err = s.Run()
	if err != nil {
		log.Fatalln(err)
	}
}

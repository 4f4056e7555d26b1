package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	root := &cli.Command{
		Name:  "dsctrack",
		Usage: "DSC custody tracker: HTTP server and maintenance commands",
		Commands: []*cli.Command{
			serveCommand(),
			exportCommand(),
			importCommand(),
			bootstrapLeaderCommand(),
		},
		// без подкоманды — запускаем сервер
		Action: runServe,
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/mavbridge/cmd/mavbridge/app"
)

func main() {
	app.NewApp().Run()
}

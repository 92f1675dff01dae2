// Command shortener runs the link shortening service.
package main

import (
	"github.com/zixialu/tinyapp/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		panic(err)
	}
	defer application.Close()

	if err := application.Run(); err != nil {
		panic(err)
	}
}

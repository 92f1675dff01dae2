package main

import (
	"log"
	"os"
	stdos "os"
)

func helper() {
	os.Exit(2)
}

func main() {
	defer helper()

	os.Exit(1)          // want `avoid using os.Exit in main.main`
	stdos.Exit(1)       // want `avoid using os.Exit in main.main`
	log.Fatal("boom")   // want `avoid using log.Fatal in main.main`
	log.Fatalf("%d", 1) // want `avoid using log.Fatalf in main.main`
	log.Println("fine")

	func() {
		log.Fatalln("nested") // want `avoid using log.Fatalln in main.main`
	}()
}

package main

import (
	_ "github.com/joho/godotenv/autoload"

	"ragchat/internal/cli"
)

func main() {
	cli.Execute()
}

package main

import "dayflow/internal/app"

// @title dayflow API
// @version 1.0
// @description Chat-to-calendar task scheduling service.
// @BasePath /
func main() {
	app.Run()
}

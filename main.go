package main

import (
	"github.com/Sharif2023/StudyNest-sub001/cmd"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}

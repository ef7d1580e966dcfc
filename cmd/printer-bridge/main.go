// Package main es el punto de entrada de Printer Bridge.
// Printer Bridge es un servicio que recibe operaciones vía WebSocket y las
// ejecuta contra impresoras 3D PrusaLink, Moonraker y Bambu.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/judwhite/go-svc"

	"github.com/adcondev/printer-bridge/internal/daemon"
)

func main() {
	consoleMode := flag.Bool("console", false, "Run in console mode (not as service)")
	flag.Parse()

	prg := &daemon.Program{}

	if *consoleMode || isInteractive() {
		runConsole(prg)
	} else {
		if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
			log.Fatal(err)
		}
	}
}

// runConsole runs the program in console mode
func runConsole(prg *daemon.Program) {
	if err := prg.Init(nil); err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	if err := prg.Start(); err != nil {
		log.Fatalf("Start failed: %v", err)
	}

	log.Println("═══════════════════════════════════════════════════════")
	log.Println("  🖨️ PRINTER BRIDGE - Modo Consola")
	log.Println("  Presiona Ctrl+C para detener...")
	log.Println("═══════════════════════════════════════════════════════")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("🛑 Shutting down...")
	if err := prg.Stop(); err != nil {
		log.Printf("Stop failed: %v", err)
	}
}

// isInteractive checks if running from a terminal (not as service)
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

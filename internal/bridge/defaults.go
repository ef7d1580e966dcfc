package bridge

import (
	"github.com/hashicorp/go-hclog"

	"github.com/adcondev/printer-bridge/internal/adapter"
	"github.com/adcondev/printer-bridge/internal/adapter/bambu"
	"github.com/adcondev/printer-bridge/internal/adapter/moonraker"
	"github.com/adcondev/printer-bridge/internal/adapter/prusalink"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// RegisterDefaults binds the three built-in protocols.
func RegisterDefaults(o *Orchestrator, runner bambu.Runner, bambuCfg bambu.Config, logger hclog.Logger) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	o.Register(printer.TypePrusaLink, func(rec printer.Record) (adapter.Adapter, error) {
		return prusalink.New(rec, logger.Named("prusalink"))
	})
	o.Register(printer.TypeMoonraker, func(rec printer.Record) (adapter.Adapter, error) {
		return moonraker.New(rec, logger.Named("moonraker"))
	})
	o.Register(printer.TypeBambu, func(rec printer.Record) (adapter.Adapter, error) {
		return bambu.New(rec, runner, bambuCfg, logger.Named("bambu"))
	})
}

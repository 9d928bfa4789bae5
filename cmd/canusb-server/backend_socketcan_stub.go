//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/hub"
)

var errNoSocketCAN = errors.New("socketcan backend requires linux; use -backend canusb")

func initSocketCANBackend(context.Context, *appConfig, *hub.Hub, *slog.Logger, *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	return nil, func() {}, errNoSocketCAN
}

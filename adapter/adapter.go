package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roffe/canbridge"
)

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*Config) (canbridge.Controller, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", a.Name, a.Description, a.RequiresSerialPort)
}

type Config struct {
	Debug        bool
	Port         string // interface name or serial port
	PortBaudrate int
	// ManageLink lets the adapter set bitrate and bring the interface up (socketcan, needs CAP_NET_ADMIN)
	ManageLink bool
	OnError    func(error)
}

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

// Register makes an adapter available by name
func Register(adapter *AdapterInfo) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	name := strings.ToLower(adapter.Name)
	if _, found := adapterMap[name]; found {
		return fmt.Errorf("adapter %s already registered", adapter.Name)
	}
	adapterMap[name] = adapter
	return nil
}

// New creates a controller by adapter name
func New(adapterName string, cfg *Config) (canbridge.Controller, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	adapterMu.RLock()
	adapter, found := adapterMap[strings.ToLower(adapterName)]
	adapterMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown adapter %q", adapterName)
	}
	if adapter.RequiresSerialPort && cfg.Port == "" {
		return nil, fmt.Errorf("adapter %s requires a serial port", adapter.Name)
	}
	return adapter.New(cfg)
}

func List() []AdapterInfo {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

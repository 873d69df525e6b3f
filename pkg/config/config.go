// Package config loads the environment surface once at startup.
// Unlike a dynamic, hot-reloadable configuration system, nothing here
// needs to change after the process starts, so a
// single-pass loader is the right amount of machinery.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
)

// Local holds the local agent's environment surface.
type Local struct {
	URL   string
	Port  int
	Delay float64

	QemuURL     string
	QemuLoc     string
	QemuMachine string

	TopoExclude string

	OversubCriticalSize int
	OversubTemplate     string

	ActMonitoring float64
	ActLearning   float64
	ActLeeway     int
}

// Global holds the dispatcher's environment surface.
type Global struct {
	URL         string
	Port        int
	Delay       float64
	NodeURLList []string
}

// LoadLocal reads the local agent's required environment variables.
// Any missing required value is reported as schederr.ConfigMissing.
func LoadLocal() (*Local, error) {
	c := &Local{}
	var err error

	if c.URL, err = requireString("SCL_URL"); err != nil {
		return nil, err
	}
	if c.Port, err = requireInt("SCL_PORT"); err != nil {
		return nil, err
	}
	if c.Delay, err = requireFloat("SCL_DELAY"); err != nil {
		return nil, err
	}

	c.QemuURL = os.Getenv("QEMU_URL")
	c.QemuLoc = os.Getenv("QEMU_LOC")
	c.QemuMachine = os.Getenv("QEMU_MACHINE")
	c.TopoExclude = os.Getenv("TOPO_EXCLUDE")

	if c.OversubCriticalSize, err = requireInt("OVSB_CRITICAL_SIZE"); err != nil {
		return nil, err
	}
	c.OversubTemplate = os.Getenv("OVSB_TEMPLATE")

	if c.ActMonitoring, err = requireFloat("SCL_ACT_MONITORING"); err != nil {
		return nil, err
	}
	if c.ActLearning, err = requireFloat("SCL_ACT_LEARNING"); err != nil {
		return nil, err
	}
	if c.ActLeeway, err = requireInt("SCL_ACT_LEEWAY"); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadGlobal reads the dispatcher's required environment variables.
func LoadGlobal() (*Global, error) {
	c := &Global{}
	var err error

	if c.URL, err = requireString("SCG_URL"); err != nil {
		return nil, err
	}
	if c.Port, err = requireInt("SCG_PORT"); err != nil {
		return nil, err
	}
	if c.Delay, err = requireFloat("SCG_DELAY"); err != nil {
		return nil, err
	}
	raw, err := requireString("SCG_NODE_URL_LIST")
	if err != nil {
		return nil, err
	}
	for _, u := range strings.Split(raw, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			c.NodeURLList = append(c.NodeURLList, u)
		}
	}
	if len(c.NodeURLList) == 0 {
		return nil, schederr.New(schederr.ConfigMissing, "SCG_NODE_URL_LIST must list at least one node")
	}
	return c, nil
}

func requireString(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", schederr.New(schederr.ConfigMissing, "%s is required", key)
	}
	return v, nil
}

func requireInt(key string) (int, error) {
	v, err := requireString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, schederr.New(schederr.ConfigMissing, "%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func requireFloat(key string) (float64, error) {
	v, err := requireString(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, schederr.New(schederr.ConfigMissing, "%s must be a float, got %q", key, v)
	}
	return f, nil
}

package device

import (
	"strings"

	"github.com/wfunc/dpc3000/internal/errors"
	"go.bug.st/serial/enumerator"
)

// PortInfo 枚举到的串口信息
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// ListPorts 枚举主机上的串口及其USB元数据
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrPortScan, "枚举串口失败")
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			Description:  d.Product,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// FindPort 按名称关键字查找串口，优先返回USB设备
func FindPort(pattern string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}

	var fallback string
	for _, p := range ports {
		if pattern != "" && !strings.Contains(p.Name, pattern) {
			continue
		}
		if p.IsUSB {
			return p.Name, nil
		}
		if fallback == "" {
			fallback = p.Name
		}
	}

	if fallback != "" {
		return fallback, nil
	}
	return "", errors.Newf(errors.ErrPortScan, "未找到匹配的串口: %q", pattern)
}

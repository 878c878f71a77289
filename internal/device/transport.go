package device

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/dpc3000/internal/errors"
)

// Transport 串口传输层抽象，真实串口与模拟设备都实现它
type Transport interface {
	// Write 写入原始命令字节
	Write(p []byte) (int, error)
	// ReadLine 读取一行应答（不含行结束符），超时返回ErrSerialTimeout
	ReadLine(timeout time.Duration) ([]byte, error)
	// Close 关闭底层连接
	Close() error
}

// SerialPortExists 检查串口设备节点是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// serialTransport 基于tarm/serial的真实串口传输
type serialTransport struct {
	port *serial.Port
	mu   sync.Mutex

	// 跨ReadLine调用的残留字节（一次Read可能带回下一行的开头）
	pending []byte
}

// openSerialTransport 打开串口
func openSerialTransport(portName string, baudRate int) (*serialTransport, error) {
	if !SerialPortExists(portName) {
		return nil, errors.Newf(errors.ErrSerialPortOpen, "串口设备不存在: %s", portName)
	}

	cfg := &serial.Config{
		Name:        portName,
		Baud:        baudRate,
		Size:        8,
		StopBits:    serial.Stop1,
		Parity:      serial.ParityNone,
		ReadTimeout: 100 * time.Millisecond,
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "打开串口失败: %s", portName)
	}

	return &serialTransport{port: port}, nil
}

// Write 写入命令字节
func (t *serialTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, errors.New(errors.ErrSerialPortWrite, "串口已关闭")
	}

	n, err := t.port.Write(p)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrSerialPortWrite, "串口写入失败")
	}
	return n, nil
}

// ReadLine 累积读取直到行结束符或超时。
// 设备应答以\r结尾，这里同时兼容\n和\r\n。
func (t *serialTransport) ReadLine(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, errors.New(errors.ErrSerialPortRead, "串口已关闭")
	}

	deadline := time.Now().Add(timeout)
	var line []byte

	// 先消费上次读取遗留的字节
	if len(t.pending) > 0 {
		if done, rest := splitLine(t.pending); done != nil {
			t.pending = rest
			return done, nil
		}
		line = append(line, t.pending...)
		t.pending = nil
	}

	buf := make([]byte, 64)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			for i, b := range buf[:n] {
				if b == '\r' || b == '\n' {
					// 行首的残留结束符（如\r\n的\n）直接跳过
					if len(line) == 0 {
						continue
					}
					if i+1 < n {
						t.pending = append(t.pending, buf[i+1:n]...)
					}
					return line, nil
				}
				line = append(line, b)
			}
		}
		if err != nil && err != io.EOF {
			// 部分USB-CDC转换器空闲时周期性返回EOF，不算故障
			if isDisconnectError(err) {
				return nil, errors.Wrap(err, errors.ErrDeviceOffline, "串口连接已断开")
			}
			return nil, errors.Wrap(err, errors.ErrSerialPortRead, "串口读取失败")
		}
		if time.Now().After(deadline) {
			return nil, errors.Newf(errors.ErrSerialTimeout, "等待应答超时(%s)", timeout)
		}
	}
}

// Close 关闭串口
func (t *serialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrSerialPortOpen, "关闭串口失败")
	}
	return nil
}

// splitLine 从缓冲中切出首个完整行，返回(行, 剩余)，无完整行时行为nil
func splitLine(buf []byte) ([]byte, []byte) {
	for i, b := range buf {
		if b == '\r' || b == '\n' {
			line := buf[:i]
			rest := buf[i+1:]
			// 跳过紧随的配对结束符
			if len(rest) > 0 && (rest[0] == '\r' || rest[0] == '\n') && rest[0] != b {
				rest = rest[1:]
			}
			if len(line) == 0 {
				return splitLine(rest)
			}
			return line, rest
		}
	}
	return nil, buf
}

// isDisconnectError 判断读写错误是否意味着设备已拔出
func isDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device")
}

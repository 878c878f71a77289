package device

import (
	"strings"
	"sync"
	"time"

	"github.com/wfunc/dpc3000/internal/errors"
)

// MockTransport 脚本化的模拟传输层（测试用）。
// 按队列顺序返回预置应答，并记录每一次写入的原始字节。
type MockTransport struct {
	mu        sync.Mutex
	writes    []string
	responses []mockResponse
	writeErr  error
	closed    bool
}

type mockResponse struct {
	line  string
	delay time.Duration
	err   error
}

// NewMockTransport 创建模拟传输层
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// QueueLine 追加待返回的应答行（可带行结束符）
func (m *MockTransport) QueueLine(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		m.responses = append(m.responses, mockResponse{line: line})
	}
}

// QueueDelayed 追加一行延迟返回的应答
func (m *MockTransport) QueueDelayed(line string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{line: line, delay: delay})
}

// QueueError 追加一次读取错误
func (m *MockTransport) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
}

// FailWrites 使后续写入返回指定错误
func (m *MockTransport) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Write 记录写入内容
func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.New(errors.ErrSerialPortWrite, "串口已关闭")
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}

	m.writes = append(m.writes, string(p))
	return len(p), nil
}

// ReadLine 弹出队首应答，队列为空或延迟超过timeout时模拟超时
func (m *MockTransport) ReadLine(timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	if len(m.responses) == 0 {
		m.mu.Unlock()
		return nil, errors.Newf(errors.ErrSerialTimeout, "等待应答超时(%s)", timeout)
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	m.mu.Unlock()

	if r.delay > 0 {
		if r.delay >= timeout {
			return nil, errors.Newf(errors.ErrSerialTimeout, "等待应答超时(%s)", timeout)
		}
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(strings.TrimRight(r.line, "\r\n")), nil
}

// Close 标记关闭
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Writes 返回全部写入记录
func (m *MockTransport) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

// LastWrite 返回最后一次写入的内容，无写入时返回空串
func (m *MockTransport) LastWrite() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return ""
	}
	return m.writes[len(m.writes)-1]
}

// WriteCount 返回写入次数
func (m *MockTransport) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

// Reset 清空写入记录与应答队列
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
	m.responses = nil
	m.writeErr = nil
}

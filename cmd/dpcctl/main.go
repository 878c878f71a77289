package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wfunc/dpc3000/internal/device"
)

// dpcctl 串口调试工具。直接驱动设备客户端，不经过服务栈，
// 用于台架调试与串口连通性排查。
func main() {
	var (
		portFlag     = flag.String("port", "/dev/ttyUSB0", "串口设备路径")
		baudFlag     = flag.Int("baud", 9600, "波特率")
		timeoutFlag  = flag.Duration("timeout", 2*time.Second, "单行应答超时")
		mockFlag     = flag.Bool("mock", false, "使用内置模拟器（无需硬件）")
		cmdFlag      = flag.String("cmd", "check", "命令(check|read|mode|setmode|setpress|stop|vent|status|tick|ports|watch)")
		modeFlag     = flag.String("target", "Control", "setmode的目标模式(Control|Measure|Vent)")
		pressFlag    = flag.Float64("pressure", 0, "setpress的目标压力(bar)")
		maxFlag      = flag.Float64("max", 0, "压力设定上限(bar)，0为不限制")
		waitFlag     = flag.Bool("wait", false, "setpress等待压力收敛，vent等待泄压完成")
		stepsFlag    = flag.Int("steps", 1, "tick的脉冲步数")
		dirFlag      = flag.String("dir", "press", "tick方向(press|vac)")
		binFlag      = flag.Bool("bin", false, "status使用二进制应答命令")
		intervalFlag = flag.Duration("interval", time.Second, "watch模式轮询间隔")
		verboseFlag  = flag.Bool("v", false, "打印每次串口往返")
	)
	flag.Parse()

	// 枚举串口不需要客户端
	if *cmdFlag == "ports" {
		listPorts()
		return
	}

	cfg := &device.Config{
		Port:         *portFlag,
		BaudRate:     *baudFlag,
		ReadTimeout:  *timeoutFlag,
		PollInterval: 250 * time.Millisecond,
		MaxPressure:  *maxFlag,
	}

	var client *device.Client
	if *mockFlag {
		client = device.NewClientWithTransport(cfg, device.NewSimulator())
		fmt.Println("=== DPC3000 串口调试工具（模拟器模式） ===")
	} else {
		client = device.NewClient(cfg)
		fmt.Printf("=== DPC3000 串口调试工具 %s@%d ===\n", *portFlag, *baudFlag)
	}

	if *verboseFlag {
		client.SetObserver(func(ex *device.Exchange) {
			fmt.Printf("  -> %s\n", strings.TrimSpace(ex.Request))
			if ex.Err != nil {
				fmt.Printf("  <- 错误: %v (%v)\n", ex.Err, ex.Duration.Round(time.Millisecond))
				return
			}
			fmt.Printf("  <- %s (%v)\n", ex.Response, ex.Duration.Round(time.Millisecond))
		})
	}

	if err := client.Connect(); err != nil {
		fatal("连接失败: %v", err)
	}
	defer client.Close()

	// Ctrl+C中断等待与watch循环
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, *cmdFlag, runOptions{
		mode:     *modeFlag,
		pressure: *pressFlag,
		wait:     *waitFlag,
		steps:    *stepsFlag,
		dir:      *dirFlag,
		binary:   *binFlag,
		interval: *intervalFlag,
	}); err != nil {
		fatal("%v", err)
	}
}

type runOptions struct {
	mode     string
	pressure float64
	wait     bool
	steps    int
	dir      string
	binary   bool
	interval time.Duration
}

func run(ctx context.Context, client *device.Client, cmd string, opts runOptions) error {
	switch cmd {
	case "check":
		firmware, err := client.Check(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("固件标识: %s\n", firmware)

	case "read":
		reading, err := client.ReadPress(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("压力: %.4f %s\n", reading.Value, reading.Unit)

	case "mode":
		mode, err := client.ReadMode(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("工作模式: %s\n", mode)

	case "setmode":
		mode, err := device.ParseMode(opts.mode)
		if err != nil {
			return err
		}
		ack, err := client.SetMode(ctx, mode)
		if err != nil {
			return err
		}
		fmt.Printf("模式已切换为 %s（应答: %s）\n", mode, ack)

	case "setpress":
		if opts.wait {
			fmt.Printf("设定 %.4f bar，等待收敛（Ctrl+C中断）...\n", opts.pressure)
			reading, err := client.SetPressAndWait(ctx, opts.pressure)
			if err != nil {
				return err
			}
			fmt.Printf("已到达: %.4f %s\n", reading.Value, reading.Unit)
		} else {
			ack, err := client.SetPress(ctx, opts.pressure)
			if err != nil {
				return err
			}
			fmt.Printf("已设定 %.4f bar（应答: %s）\n", opts.pressure, ack)
		}

	case "stop":
		ack, err := client.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("控制已停止（应答: %s）\n", ack)

	case "vent":
		if opts.wait {
			fmt.Println("排气中，等待泄压完成（Ctrl+C中断）...")
			reading, err := client.VentAndWait(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("泄压完成: %.4f %s\n", reading.Value, reading.Unit)
		} else {
			ack, err := client.Vent(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("排气阀已打开（应答: %s）\n", ack)
		}

	case "status":
		var status device.Status
		var err error
		if opts.binary {
			status, err = client.ReadStatusBinary(ctx)
		} else {
			status, err = client.ReadStatus(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("状态字节: %d (%08b)\n", int(status), int(status))
		for _, desc := range status.Flags() {
			fmt.Printf("  - %s\n", desc)
		}

	case "tick":
		switch opts.dir {
		case "press":
			if err := client.TickPress(ctx, opts.steps); err != nil {
				return err
			}
		case "vac":
			if err := client.TickVac(ctx, opts.steps); err != nil {
				return err
			}
		default:
			return fmt.Errorf("未知脉冲方向: %s（可选press|vac）", opts.dir)
		}
		fmt.Printf("已发送 %s 方向脉冲 %d 步\n", opts.dir, opts.steps)

	case "watch":
		return watch(ctx, client, opts.interval)

	default:
		return fmt.Errorf("未知命令: %s", cmd)
	}

	return nil
}

// watch 轮询压力与状态，直到Ctrl+C
func watch(ctx context.Context, client *device.Client, interval time.Duration) error {
	fmt.Printf("轮询间隔 %v，Ctrl+C退出\n", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reading, err := client.ReadPress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("%s  读取失败: %v\n", time.Now().Format("15:04:05"), err)
		} else {
			status, serr := client.ReadStatus(ctx)
			if serr != nil {
				fmt.Printf("%s  %.4f %s\n", time.Now().Format("15:04:05"), reading.Value, reading.Unit)
			} else {
				fmt.Printf("%s  %.4f %s  状态=%d\n", time.Now().Format("15:04:05"), reading.Value, reading.Unit, int(status))
			}
		}

		select {
		case <-ctx.Done():
			fmt.Println("已停止")
			return nil
		case <-ticker.C:
		}
	}
}

// listPorts 枚举串口
func listPorts() {
	ports, err := device.ListPorts()
	if err != nil {
		fatal("枚举串口失败: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("未发现串口")
		return
	}

	fmt.Printf("发现 %d 个串口:\n", len(ports))
	for _, p := range ports {
		line := "  " + p.Name
		if p.IsUSB {
			line += fmt.Sprintf("  [USB %s:%s]", p.VID, p.PID)
			if p.SerialNumber != "" {
				line += " SN=" + p.SerialNumber
			}
		}
		if p.Description != "" {
			line += "  " + p.Description
		}
		fmt.Println(line)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "错误: "+format+"\n", args...)
	os.Exit(1)
}

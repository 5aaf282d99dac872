// Package ui provides colored terminal output helpers for the CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgWhite)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	stepColor    = color.New(color.FgBlue)
	blueColor    = color.New(color.FgBlue)
	yellowColor  = color.New(color.FgYellow)
)

// Header prints a section banner.
func Header(text string) {
	line := strings.Repeat("=", headerWidth)
	headerColor.Println(line)
	headerColor.Println(center(text, headerWidth))
	headerColor.Println(line)
}

// Step prints a numbered progress step.
func Step(n, total int, text string) {
	stepColor.Printf("[%d/%d] %s\n", n, total, text)
}

// Success prints a success message.
func Success(format string, args ...any) {
	successColor.Printf("✓ "+format+"\n", args...)
}

// Info prints an informational message.
func Info(format string, args ...any) {
	infoColor.Printf(format+"\n", args...)
}

// Warning prints a warning message.
func Warning(format string, args ...any) {
	warningColor.Printf("⚠ "+format+"\n", args...)
}

// Error prints an error message.
func Error(format string, args ...any) {
	errorColor.Printf("✗ "+format+"\n", args...)
}

// BlueText returns the text colored blue.
func BlueText(format string, args ...any) string {
	return blueColor.Sprintf(format, args...)
}

// YellowText returns the text colored yellow.
func YellowText(format string, args ...any) string {
	return yellowColor.Sprintf(format, args...)
}

// center pads text on the left so it appears centered within width.
// Text longer than width is returned unchanged.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return fmt.Sprintf("%s%s", strings.Repeat(" ", padding), text)
}

// Package roomcode 生成和校验可分享的房间码。
//
// 支持三种形态：
//   - 随机码   LLL-NNN   例如 "QZK-407"
//   - 日期序号 YYMMDD-NNN 例如 "261016-003"
//   - 当日房间 YYMMDD     例如 "261016"，同一天所有人共用
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	letters   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits    = "0123456789"
	separator = "-"

	dateLayout = "060102"
	// MaxSequence 日期序号的上限（三位数）
	MaxSequence = 999
)

var (
	ErrInvalidCode      = errors.New("roomcode: invalid room code")
	ErrSequenceExceeded = errors.New("roomcode: daily sequence exhausted")
)

var (
	randomPattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}$`)
	datedPattern  = regexp.MustCompile(`^[0-9]{6}-[0-9]{3}$`)
	todayPattern  = regexp.MustCompile(`^[0-9]{6}$`)
	invalidChars  = regexp.MustCompile(`[^A-Z0-9-]`)
)

// Random 生成 3 个大写字母 + "-" + 3 个数字的随机房间码。
// 不保证唯一，冲突由存储层的条件创建负责检测。
func Random() (string, error) {
	var b strings.Builder
	b.Grow(7)
	for i := 0; i < 3; i++ {
		c, err := pick(letters)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	b.WriteString(separator)
	for i := 0; i < 3; i++ {
		c, err := pick(digits)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// pick 从字母表中均匀地取一个字符
func pick(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random index: %w", err)
	}
	return alphabet[n.Int64()], nil
}

// DayPrefix 返回 day 的 YYMMDD 前缀。
func DayPrefix(day time.Time) string {
	return day.Format(dateLayout)
}

// Today 返回当日房间码（仅日期，无序号）。
func Today(day time.Time) string {
	return DayPrefix(day)
}

// Dated 返回 YYMMDD-NNN 形式的房间码，seq 从 1 开始。
func Dated(day time.Time, seq int64) (string, error) {
	if seq < 1 {
		return "", fmt.Errorf("roomcode: sequence must be positive, got %d", seq)
	}
	if seq > MaxSequence {
		return "", ErrSequenceExceeded
	}
	return fmt.Sprintf("%s%s%03d", DayPrefix(day), separator, seq), nil
}

// Normalize 去除首尾空白、转大写并删除非法字符。
func Normalize(input string) string {
	code := strings.ToUpper(strings.TrimSpace(input))
	return invalidChars.ReplaceAllString(code, "")
}

// Validate 校验房间码是否属于三种已知形态之一。
func Validate(code string) error {
	if randomPattern.MatchString(code) || datedPattern.MatchString(code) || todayPattern.MatchString(code) {
		return nil
	}
	return ErrInvalidCode
}

// Parse 等价于 Normalize 之后 Validate。
func Parse(input string) (string, error) {
	code := Normalize(input)
	if err := Validate(code); err != nil {
		return "", err
	}
	return code, nil
}

// IsRandom 报告 code 是否为随机码形态。
func IsRandom(code string) bool { return randomPattern.MatchString(code) }

// IsDated 报告 code 是否为日期序号形态。
func IsDated(code string) bool { return datedPattern.MatchString(code) }

package utils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

// PasswordTestSuite 密码工具测试套件
type PasswordTestSuite struct {
	suite.Suite
}

// 哈希后能验证，错误密码与大小写差异均失败
func (suite *PasswordTestSuite) TestHashAndVerify() {
	password := "Dpc3000Admin!"

	hash, err := HashPassword(password)
	suite.NoError(err)
	suite.NotEmpty(hash)
	suite.NotEqual(password, hash)

	valid, err := VerifyPassword(password, hash)
	suite.NoError(err)
	suite.True(valid)

	valid, err = VerifyPassword("WrongPassword", hash)
	suite.NoError(err)
	suite.False(valid)

	// 大小写敏感
	valid, err = VerifyPassword("dpc3000admin!", hash)
	suite.NoError(err)
	suite.False(valid)
}

// 相同密码因随机盐生成不同哈希，且都能验证
func (suite *PasswordTestSuite) TestHashUniqueSalt() {
	password := "SamePassword123"

	hashes := make([]string, 4)
	for i := range hashes {
		hash, err := HashPassword(password)
		suite.NoError(err)
		hashes[i] = hash
	}

	for i := 0; i < len(hashes); i++ {
		for j := i + 1; j < len(hashes); j++ {
			suite.NotEqual(hashes[i], hashes[j])
		}
	}

	for _, hash := range hashes {
		valid, err := VerifyPassword(password, hash)
		suite.NoError(err)
		suite.True(valid)
	}
}

// 自定义参数写入编码串，验证时按编码串里的参数重算
func (suite *PasswordTestSuite) TestCustomParams() {
	password := "CustomConfigPassword"
	config := &PasswordConfig{
		Time:    2,
		Memory:  32 * 1024,
		Threads: 2,
		KeyLen:  16,
	}

	hash, err := HashPasswordWithConfig(password, config)
	suite.NoError(err)
	suite.Contains(hash, "m=32768,t=2,p=2")

	valid, err := VerifyPassword(password, hash)
	suite.NoError(err)
	suite.True(valid)
}

// 空密码和超长密码都是合法输入
func (suite *PasswordTestSuite) TestEmptyAndLongPasswords() {
	hash, err := HashPassword("")
	suite.NoError(err)
	suite.NotEmpty(hash)

	valid, err := VerifyPassword("", hash)
	suite.NoError(err)
	suite.True(valid)

	valid, err = VerifyPassword("notEmpty", hash)
	suite.NoError(err)
	suite.False(valid)

	long := strings.Repeat("a", 1000)
	hash, err = HashPassword(long)
	suite.NoError(err)

	valid, err = VerifyPassword(long, hash)
	suite.NoError(err)
	suite.True(valid)
}

// 特殊字符与多字节密码
func (suite *PasswordTestSuite) TestSpecialCharacterPasswords() {
	passwords := []string{
		"P@$$w0rd!",
		"压力控制123",
		"🔐DPC3000🔒",
		"Tab\tSpace New\nLine",
		"Quote'Double\"Quote",
	}

	for _, password := range passwords {
		hash, err := HashPassword(password)
		suite.NoError(err)

		valid, err := VerifyPassword(password, hash)
		suite.NoError(err)
		suite.True(valid, "密码 %q 应该验证成功", password)
	}
}

// 各类畸形哈希都返回错误而不是panic
func (suite *PasswordTestSuite) TestMalformedHash() {
	cases := []string{
		"invalid-hash",
		"",
		"$argon2$invalid$format",
		"$2a$v=19$m=65536,t=1,p=4$AAAA$BBBB",        // 非argon2id算法
		"$argon2id$v=18$m=65536,t=1,p=4$AAAA$BBBB", // 版本不兼容
	}

	for _, encoded := range cases {
		valid, err := VerifyPassword("password", encoded)
		suite.Error(err, "哈希 %q 应该解析失败", encoded)
		suite.False(valid)
	}
}

// 编码串符合标准argon2id格式
func (suite *PasswordTestSuite) TestEncodedFormat() {
	hash, err := HashPassword("TestFormat")
	suite.NoError(err)

	suite.True(strings.HasPrefix(hash, "$argon2id$"))
	suite.Contains(hash, "v=19")
	suite.Contains(hash, "m=65536,t=1,p=4")
	suite.Len(strings.Split(hash, "$"), 6)
}

// 随机字符串长度精确且只含URL安全字符
func (suite *PasswordTestSuite) TestGenerateRandomString() {
	for _, length := range []int{8, 16, 24, 32, 64} {
		str, err := GenerateRandomString(length)
		suite.NoError(err)
		suite.Len(str, length)

		for _, char := range str {
			isValid := (char >= 'A' && char <= 'Z') ||
				(char >= 'a' && char <= 'z') ||
				(char >= '0' && char <= '9') ||
				char == '-' || char == '_'
			suite.True(isValid, "字符 %c 不是URL安全的base64字符", char)
		}
	}

	// 边界长度
	str, err := GenerateRandomString(0)
	suite.NoError(err)
	suite.Empty(str)

	str, err = GenerateRandomString(1024)
	suite.NoError(err)
	suite.Len(str, 1024)
}

// 随机字符串不应重复
func (suite *PasswordTestSuite) TestGenerateRandomStringUniqueness() {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		str, err := GenerateRandomString(16)
		suite.NoError(err)
		suite.False(seen[str], "生成了重复的随机字符串")
		seen[str] = true
	}
}

// 会话ID固定32字符且唯一
func (suite *PasswordTestSuite) TestGenerateSessionID() {
	first, err := GenerateSessionID()
	suite.NoError(err)
	suite.Len(first, 32)

	second, err := GenerateSessionID()
	suite.NoError(err)
	suite.NotEqual(first, second)
}

// 并发哈希互不干扰
func (suite *PasswordTestSuite) TestConcurrentHashing() {
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(id int) {
			password := fmt.Sprintf("Operator%dPass", id)
			hash, err := HashPassword(password)
			suite.NoError(err)

			valid, err := VerifyPassword(password, hash)
			suite.NoError(err)
			suite.True(valid)

			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestPasswordSuite(t *testing.T) {
	suite.Run(t, new(PasswordTestSuite))
}

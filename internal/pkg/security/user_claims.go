package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	JWTSecret         string = "Crewline"
	JWTExpirationTime        = time.Hour * 24
)

// UserClaims Token 中携带的业务身份，EmployeeID 即工号
type UserClaims struct {
	EmployeeID string `json:"employee_id"`
	jwt.RegisteredClaims
}

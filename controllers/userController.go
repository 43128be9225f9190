package controllers

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/smiley16479/music-room-sub004/inits"
	"github.com/smiley16479/music-room-sub004/models"
)

// Get user details
func User(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	userIDStr := fmt.Sprintf("%v", userID)
	var user models.User
	if err := inits.DB.Where("id = ?", userIDStr).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Extracts user ID from JWT cookie and checks if the user is authenticated
func GetUserIDFromToken(c *gin.Context) (string, error) {
	cookieValue, err := c.Cookie("JWT")
	if err != nil {
		return "", err
	}

	token, err := jwt.Parse(cookieValue, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("secret")), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims := token.Claims.(jwt.MapClaims)
	userID, ok := claims["iss"].(string)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	// Extend the cookie's expiration time
	maxAge := 30 * 60 // 30 minutes
	c.SetCookie("JWT", cookieValue, maxAge, "/", "", false, true)

	return userID, nil
}

// GetValidUserID ensures the user exists and converts the user id into uint.
func GetValidUserID(c *gin.Context) (uint, error) {
	userIDInterface, exists := c.Get("userID")
	if !exists {
		return 0, fmt.Errorf("Unauthorized")
	}

	userIDStr := fmt.Sprintf("%v", userIDInterface)
	var user models.User
	if err := inits.DB.Where("id = ?", userIDStr).First(&user).Error; err != nil {
		return 0, fmt.Errorf("Unauthorized")
	}

	userIDUint, err := strconv.ParseUint(userIDStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID format")
	}

	return uint(userIDUint), nil
}

// Create a new user
func UsersCreate(c *gin.Context) {
	var account struct {
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid input"})
		return
	}

	// Check if the user already exists
	var existingUser models.User
	result := inits.DB.Where("name = ?", account.Name).First(&existingUser)
	if result.Error == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "User already signed up, try signing in"})
		return
	}

	password, err := bcrypt.GenerateFromPassword([]byte(account.Password), 14)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error hashing password"})
		return
	}

	user := models.User{
		Name:     account.Name,
		Password: password,
	}

	result = inits.DB.Create(&user)
	if result.Error != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// User login function
func Login(c *gin.Context) {
	var account struct {
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request"})
		return
	}

	var user models.User
	result := inits.DB.Where("name = ?", account.Name).First(&user)
	if result.Error != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "User not found"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(account.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Incorrect password"})
		return
	}

	secret := viper.GetString("secret")
	if secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Secret key is missing"})
		return
	}

	claims := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Issuer:    strconv.Itoa(int(user.ID)),
		ExpiresAt: time.Now().Add(time.Minute * 30).Unix(),
	})

	token, err := claims.SignedString([]byte(secret))
	if err != nil {
		log.Printf("Error creating token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create token"})
		return
	}

	c.SetCookie("JWT", token, 30*60, "/", "", false, true)

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Log out user
func LogOut(c *gin.Context) {
	c.SetCookie("JWT", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

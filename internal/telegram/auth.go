package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthManager права операторов и rate limiting
type AuthManager struct {
	adminIDs        map[int64]bool
	whitelist       map[int64]bool
	limiters        map[int64]*userLimiter
	mu              sync.RWMutex
	enableWhitelist bool
	perSecond       rate.Limit
	burst           int
	now             func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAuthManager списки id через запятую; некорректные id пропускаются
func NewAuthManager(adminIDsStr, whitelistStr string) *AuthManager {
	am := &AuthManager{
		adminIDs:  parseIDs(adminIDsStr),
		whitelist: parseIDs(whitelistStr),
		limiters:  make(map[int64]*userLimiter),
		perSecond: rate.Limit(2),
		burst:     2,
		now:       time.Now,
	}
	am.enableWhitelist = strings.TrimSpace(whitelistStr) != ""
	return am
}

func parseIDs(s string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin пустой список админов не дает прав никому
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.adminIDs[userID]
}

// IsAllowed доступ к командам чтения
func (am *AuthManager) IsAllowed(userID int64) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if !am.enableWhitelist {
		return true
	}
	if am.adminIDs[userID] {
		return true
	}
	return am.whitelist[userID]
}

// SetRateLimit запросов в секунду на пользователя
func (am *AuthManager) SetRateLimit(perSecond float64, burst int) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.perSecond = rate.Limit(perSecond)
	am.burst = burst
	am.limiters = make(map[int64]*userLimiter)
}

// CheckRateLimit ошибка, если пользователь превысил лимит
func (am *AuthManager) CheckRateLimit(userID int64) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	ul, ok := am.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(am.perSecond, am.burst)}
		am.limiters[userID] = ul
	}
	ul.lastSeen = now

	if !ul.limiter.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded, please wait")
	}
	return nil
}

// RequireAdmin ошибка для не-администратора
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// GetAdminIDs id администраторов
func (am *AuthManager) GetAdminIDs() []int64 {
	am.mu.RLock()
	defer am.mu.RUnlock()

	ids := make([]int64, 0, len(am.adminIDs))
	for id := range am.adminIDs {
		ids = append(ids, id)
	}
	return ids
}

// CleanupRateLimiters удаляет лимитеры неактивных более 5 минут
func (am *AuthManager) CleanupRateLimiters() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	for userID, ul := range am.limiters {
		if now.Sub(ul.lastSeen) > 5*time.Minute {
			delete(am.limiters, userID)
		}
	}
}

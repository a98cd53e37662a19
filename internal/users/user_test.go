package users

import (
	"testing"
	"time"
)

func TestComputeHA1MatchesRFC2617Form(t *testing.T) {
	got := ComputeHA1("alice", "voicebridge", "hunter2")
	want := md5Hex("alice:voicebridge:hunter2")
	if got != want {
		t.Errorf("ComputeHA1() = %q, want %q", got, want)
	}
}

func TestUserLockoutAfterMaxFailedAttempts(t *testing.T) {
	u := &User{Username: "alice"}
	now := time.Now()

	for i := 0; i < MaxFailedAttempts-1; i++ {
		u.RecordFailure(now)
		if u.locked(now) {
			t.Fatalf("locked after %d failures, want unlocked below threshold", i+1)
		}
	}

	u.RecordFailure(now)
	if !u.locked(now) {
		t.Fatal("expected locked after MaxFailedAttempts failures")
	}
	if !u.locked(now.Add(LockoutDuration - time.Second)) {
		t.Fatal("expected still locked just before LockoutDuration elapses")
	}
	if u.locked(now.Add(LockoutDuration + time.Second)) {
		t.Fatal("expected unlocked after LockoutDuration elapses")
	}
}

func TestUserRecordSuccessClearsLockout(t *testing.T) {
	u := &User{Username: "alice"}
	now := time.Now()
	for i := 0; i < MaxFailedAttempts; i++ {
		u.RecordFailure(now)
	}
	if !u.locked(now) {
		t.Fatal("expected locked before RecordSuccess")
	}

	u.RecordSuccess(now)
	if u.locked(now) {
		t.Fatal("expected unlocked after RecordSuccess")
	}
	if u.FailedAuthAttempts != 0 {
		t.Errorf("FailedAuthAttempts = %d, want 0", u.FailedAuthAttempts)
	}
}

func TestUserBlockedOverridesLockoutWindow(t *testing.T) {
	u := &User{Username: "alice", Blocked: true}
	if !u.IsLocked() {
		t.Fatal("expected Blocked user to always report locked")
	}
}

func TestUserTryAdmitCallRespectsCap(t *testing.T) {
	u := &User{Username: "alice", MaxConcurrentCalls: 1}

	if !u.TryAdmitCall() {
		t.Fatal("first TryAdmitCall() = false, want true")
	}
	if u.TryAdmitCall() {
		t.Fatal("second TryAdmitCall() = true, want false (at cap)")
	}

	u.ReleaseCall()
	if !u.TryAdmitCall() {
		t.Fatal("TryAdmitCall() after ReleaseCall() = false, want true")
	}
}

func TestUserTryAdmitCallUnlimitedWhenCapZero(t *testing.T) {
	u := &User{Username: "alice"}
	for i := 0; i < 100; i++ {
		if !u.TryAdmitCall() {
			t.Fatalf("TryAdmitCall() failed at call %d with no configured cap", i)
		}
	}
}

func TestRepositoryPutGetDelete(t *testing.T) {
	repo := NewRepository()
	u := &User{Username: "alice"}
	repo.Put(u)

	got, ok := repo.Get("alice")
	if !ok || got != u {
		t.Fatalf("Get(alice) = %+v, %v", got, ok)
	}

	repo.Delete("alice")
	if _, ok := repo.Get("alice"); ok {
		t.Error("Get(alice) after Delete() found a user, want not found")
	}
}

func TestRepositoryList(t *testing.T) {
	repo := NewRepository()
	repo.Put(&User{Username: "alice"})
	repo.Put(&User{Username: "bob"})

	if got := len(repo.List()); got != 2 {
		t.Errorf("List() length = %d, want 2", got)
	}
}

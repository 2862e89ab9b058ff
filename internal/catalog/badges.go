package catalog

import "cyberguard-progress-service/internal/domain"

// DefaultBadges is the seed badge catalog.
func DefaultBadges() []domain.Badge {
	return []domain.Badge{
		{
			ID: "first-login", Name: "Welcome Aboard", Description: "Start your first module",
			Icon: "🚀", Category: domain.CategoryMilestone, Level: domain.BadgeLevelAll,
			Criterion: domain.FirstModule{}, Rarity: "common", Points: 10, IsActive: true, Order: 1,
		},
		{
			ID: "first-module-complete", Name: "First Steps", Description: "Complete your first module",
			Icon: "🎯", Category: domain.CategoryMilestone, Level: domain.BadgeLevelAll,
			Criterion: domain.ModulesCompleted{Count: 1}, Rarity: "common", Points: 25, IsActive: true, Order: 2,
		},
		levelBadge("beginner-complete", "Beginner Graduate", domain.LevelBeginner, "uncommon", 50, 10),
		perfectBadge("beginner-perfectionist", "Beginner Perfectionist", domain.LevelBeginner, "rare", 100, 11),
		levelBadge("intermediate-complete", "Intermediate Graduate", domain.LevelIntermediate, "rare", 100, 20),
		perfectBadge("intermediate-perfectionist", "Intermediate Perfectionist", domain.LevelIntermediate, "epic", 200, 21),
		levelBadge("advanced-complete", "Advanced Graduate", domain.LevelAdvanced, "epic", 200, 30),
		perfectBadge("advanced-perfectionist", "Advanced Perfectionist", domain.LevelAdvanced, "legendary", 400, 31),
		pointsBadge("points-100", "Point Collector", 100, "common", 40),
		pointsBadge("points-500", "Point Hoarder", 500, "uncommon", 41),
		pointsBadge("points-1000", "Point Master", 1000, "rare", 42),
		pointsBadge("points-2500", "Point Legend", 2500, "epic", 43),
		modulesBadge("modules-5", "Dedicated Learner", 5, "uncommon", 50),
		modulesBadge("modules-10", "Knowledge Seeker", 10, "rare", 51),
		modulesBadge("modules-all", "Completionist", 15, "legendary", 52),
		{
			ID: "speed-demon", Name: "Speed Demon", Description: "Finish a quiz in under five minutes",
			Icon: "⚡", Category: domain.CategorySpecial, Level: domain.BadgeLevelAll,
			Criterion: domain.SpeedCompletion{Seconds: 300}, Rarity: "rare", Points: 75, IsActive: true, Order: 60,
		},
		{
			ID: "perfectionist", Name: "Perfectionist", Description: "Score 100% on five modules",
			Icon: "💯", Category: domain.CategoryMastery, Level: domain.BadgeLevelAll,
			Criterion: domain.PerfectScore{Count: 5}, Rarity: "epic", Points: 150, IsActive: true, Order: 61,
		},
		{
			ID: "cyber-guardian", Name: "Cyber Guardian", Description: "Complete every module in the catalog",
			Icon: "🛡️", Category: domain.CategorySpecial, Level: domain.BadgeLevelAll,
			Criterion: domain.AllModulesLevel{Percent: 100}, Rarity: "legendary", Points: 500, IsActive: true, Order: 62,
		},
	}
}

func levelBadge(id, name string, level domain.Level, rarity string, points, order int) domain.Badge {
	return domain.Badge{
		ID: id, Name: name, Description: "Complete every " + string(level) + " module",
		Icon: "🎓", Category: domain.CategoryAchievement, Level: string(level),
		Criterion: domain.LevelCompleted{Level: level}, Rarity: rarity, Points: points, IsActive: true, Order: order,
	}
}

func perfectBadge(id, name string, level domain.Level, rarity string, points, order int) domain.Badge {
	return domain.Badge{
		ID: id, Name: name, Description: "Score 100% on every " + string(level) + " module",
		Icon: "⭐", Category: domain.CategoryMastery, Level: string(level),
		Criterion: domain.PerfectScore{Count: 1, Level: level}, Rarity: rarity, Points: points, IsActive: true, Order: order,
	}
}

func pointsBadge(id, name string, points int, rarity string, order int) domain.Badge {
	return domain.Badge{
		ID: id, Name: name, Description: "Earn a lifetime total of points",
		Icon: "🏆", Category: domain.CategoryMilestone, Level: domain.BadgeLevelAll,
		Criterion: domain.PointsEarned{Points: points}, Rarity: rarity, Points: points / 10, IsActive: true, Order: order,
	}
}

func modulesBadge(id, name string, count int, rarity string, order int) domain.Badge {
	return domain.Badge{
		ID: id, Name: name, Description: "Complete several modules",
		Icon: "📚", Category: domain.CategoryMilestone, Level: domain.BadgeLevelAll,
		Criterion: domain.ModulesCompleted{Count: count}, Rarity: rarity, Points: count * 10, IsActive: true, Order: order,
	}
}
